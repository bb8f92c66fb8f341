package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"riverwatch/internal/models"
)

type cachedTemperature struct {
	value     float64
	fetchedAt time.Time
}

// TemperatureEnricher fills in a missing temperature with the current air
// temperature at the station. Lookups are cached per station for ttl.
type TemperatureEnricher struct {
	client *OpenMeteoClient
	ttl    time.Duration
	clock  clockwork.Clock

	mu    sync.Mutex
	cache map[string]cachedTemperature
}

func NewTemperatureEnricher(client *OpenMeteoClient, ttl time.Duration, clock clockwork.Clock) *TemperatureEnricher {
	return &TemperatureEnricher{
		client: client,
		ttl:    ttl,
		clock:  clock,
		cache:  make(map[string]cachedTemperature),
	}
}

// Enrich adds a temperature value to r when it has none. Readings that already
// carry a temperature are left untouched.
func (e *TemperatureEnricher) Enrich(ctx context.Context, station models.Station, r *models.Reading) error {
	if _, ok := r.Values[models.ParamTemperature]; ok {
		return nil
	}

	temp, err := e.temperature(ctx, station)
	if err != nil {
		return err
	}
	if r.Values == nil {
		r.Values = make(map[models.Parameter]float64)
	}
	r.Values[models.ParamTemperature] = temp
	return nil
}

func (e *TemperatureEnricher) temperature(ctx context.Context, station models.Station) (float64, error) {
	now := e.clock.Now()

	e.mu.Lock()
	cached, ok := e.cache[station.ID]
	e.mu.Unlock()
	if ok && now.Sub(cached.fetchedAt) < e.ttl {
		return cached.value, nil
	}

	weather, err := e.client.GetCurrentWeather(ctx, station.Latitude, station.Longitude, []string{"temperature_2m"})
	if err != nil {
		return 0, err
	}
	if weather.Current == nil || weather.Current.Temperature2m == nil {
		return 0, fmt.Errorf("no current temperature for station %s", station.ID)
	}

	e.mu.Lock()
	e.cache[station.ID] = cachedTemperature{value: *weather.Current.Temperature2m, fetchedAt: now}
	e.mu.Unlock()

	return *weather.Current.Temperature2m, nil
}
