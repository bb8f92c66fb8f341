package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"riverwatch/internal/models"
)

func TestNewOpenMeteoClient(t *testing.T) {
	client := NewOpenMeteoClient("")
	if client == nil {
		t.Fatal("NewOpenMeteoClient() returned nil")
	}

	if client.client == nil {
		t.Error("OpenMeteoClient.client should not be nil")
	}

	if client.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %v, want %v", client.baseURL, DefaultBaseURL)
	}
}

func TestBuildURL(t *testing.T) {
	client := NewOpenMeteoClient("")

	tests := []struct {
		name   string
		params ForecastParams
		want   string
	}{
		{
			name: "basic current weather",
			params: ForecastParams{
				Latitude:      25.3176,
				Longitude:     82.9739,
				CurrentFields: []string{"temperature_2m", "precipitation"},
			},
			want: "https://api.open-meteo.com/v1/forecast?latitude=25.3176&longitude=82.9739&timezone=auto&temperature_unit=celsius&forecast_days=0&current=temperature_2m,precipitation",
		},
		{
			name: "hourly data with past days",
			params: ForecastParams{
				Latitude:     25.3176,
				Longitude:    82.9739,
				HourlyFields: []string{"temperature_2m"},
				PastDays:     7,
				ForecastDays: 0,
			},
			want: "https://api.open-meteo.com/v1/forecast?latitude=25.3176&longitude=82.9739&timezone=auto&temperature_unit=celsius&past_days=7&forecast_days=0&hourly=temperature_2m",
		},
		{
			name: "daily forecast",
			params: ForecastParams{
				Latitude:     18.5204,
				Longitude:    73.8567,
				DailyFields:  []string{"precipitation_sum"},
				ForecastDays: 7,
			},
			want: "https://api.open-meteo.com/v1/forecast?latitude=18.5204&longitude=73.8567&timezone=auto&temperature_unit=celsius&forecast_days=7&daily=precipitation_sum",
		},
		{
			name: "custom timezone and temperature unit",
			params: ForecastParams{
				Latitude:        51.5074,
				Longitude:       -0.1278,
				CurrentFields:   []string{"temperature_2m"},
				Timezone:        "Europe/London",
				TemperatureUnit: "fahrenheit",
			},
			want: "https://api.open-meteo.com/v1/forecast?latitude=51.5074&longitude=-0.1278&timezone=Europe/London&temperature_unit=fahrenheit&forecast_days=0&current=temperature_2m",
		},
		{
			name: "all field types",
			params: ForecastParams{
				Latitude:      -33.8688,
				Longitude:     151.2093,
				CurrentFields: []string{"temperature_2m"},
				HourlyFields:  []string{"precipitation"},
				DailyFields:   []string{"temperature_2m_max"},
			},
			want: "https://api.open-meteo.com/v1/forecast?latitude=-33.8688&longitude=151.2093&timezone=auto&temperature_unit=celsius&forecast_days=0&current=temperature_2m&daily=temperature_2m_max&hourly=precipitation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.BuildURL(tt.params)
			if got != tt.want {
				t.Errorf("BuildURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmptyFields(t *testing.T) {
	client := NewOpenMeteoClient("")
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{"current", func() error {
			_, err := client.GetCurrentWeather(ctx, 25.3, 82.9, nil)
			return err
		}, "GetCurrentWeather: no weather fields provided"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil {
				t.Fatal("expected error for empty fields, got nil")
			}
			if err.Error() != tt.want {
				t.Errorf("error = %v, want %v", err.Error(), tt.want)
			}
		})
	}
}

func TestGetForecast_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenMeteoClient(srv.URL)
	_, err := client.GetCurrentWeather(context.Background(), 25.3, 82.9, []string{"temperature_2m"})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "status 429") {
		t.Errorf("error = %v, want status 429", err)
	}
}

func TestTemperatureEnricher(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.URL.Query().Get("current"); got != "temperature_2m" {
			t.Errorf("current = %q, want temperature_2m", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"latitude":25.3,"longitude":82.9,"timezone":"Asia/Kolkata","current":{"time":"2024-06-01T12:00","temperature_2m":31.5}}`))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	e := NewTemperatureEnricher(NewOpenMeteoClient(srv.URL), time.Hour, clock)
	station := models.Station{ID: "S1", Latitude: 25.3, Longitude: 82.9}

	r := models.Reading{Values: map[models.Parameter]float64{models.ParamDO: 6.5}}
	if err := e.Enrich(context.Background(), station, &r); err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if r.Values[models.ParamTemperature] != 31.5 {
		t.Errorf("temperature = %v, want 31.5", r.Values[models.ParamTemperature])
	}

	r2 := models.Reading{Values: map[models.Parameter]float64{}}
	_ = e.Enrich(context.Background(), station, &r2)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want cached lookup", calls.Load())
	}

	clock.Advance(2 * time.Hour)
	r3 := models.Reading{}
	_ = e.Enrich(context.Background(), station, &r3)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want refresh after ttl", calls.Load())
	}

	measured := models.Reading{Values: map[models.Parameter]float64{models.ParamTemperature: 22}}
	_ = e.Enrich(context.Background(), station, &measured)
	if measured.Values[models.ParamTemperature] != 22 {
		t.Error("Enrich() should keep a measured temperature")
	}
}
