package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"riverwatch/internal/models"
)

// LastKnown exposes the most recent accepted reading per station
type LastKnown interface {
	Current(stationID string) (models.Reading, bool)
}

// FallbackAdapter carries the last accepted values forward when every live source is down.
// It stops serving once the underlying observation is older than maxAge.
type FallbackAdapter struct {
	Descriptor
	last       LastKnown
	maxAge     time.Duration
	confidence float64
	clock      clockwork.Clock

	mu sync.Mutex
	// observed holds the time of the real observation a station's fallback chain started from
	observed map[string]time.Time
}

func NewFallbackAdapter(d Descriptor, last LastKnown, maxAge time.Duration, confidence float64, clock clockwork.Clock) *FallbackAdapter {
	return &FallbackAdapter{
		Descriptor: d,
		last:       last,
		maxAge:     maxAge,
		confidence: confidence,
		clock:      clock,
		observed:   make(map[string]time.Time),
	}
}

func (a *FallbackAdapter) FetchLatest(ctx context.Context, stationID string) (models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return models.Reading{}, err
	}

	current, ok := a.last.Current(stationID)
	if !ok {
		return models.Reading{}, fmt.Errorf("%w: no prior reading for %s", ErrUnavailable, stationID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	observed := current.Timestamp
	if current.Source == a.Name() {
		if at, ok := a.observed[stationID]; ok {
			observed = at
		}
	}
	a.observed[stationID] = observed

	now := a.clock.Now()
	if a.maxAge > 0 && now.Sub(observed) > a.maxAge {
		return models.Reading{}, fmt.Errorf("%w: last observation for %s is %s old", ErrUnavailable, stationID, now.Sub(observed).Round(time.Second))
	}

	out := current.Clone()
	out.Timestamp = now
	out.Source = a.Name()
	out.Confidence = a.confidence
	out.Quality = ""
	return out, nil
}
