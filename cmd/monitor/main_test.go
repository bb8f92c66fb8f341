package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"riverwatch/internal/config"
	"riverwatch/internal/detector"
	"riverwatch/internal/forecast"
	"riverwatch/internal/models"
)

type noLastKnown struct{}

func (noLastKnown) Current(string) (models.Reading, bool) { return models.Reading{}, false }

func TestBuildAdapters_PriorityOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Sources.Sensor.Enabled = true
	cfg.Sources.Sensor.Broker = "tcp://localhost:1883"
	cfg.Sources.Government.Enabled = true
	cfg.Sources.Government.BaseURL = "http://gov.example"
	cfg.Sources.Satellite.Enabled = true
	cfg.Sources.Satellite.BaseURL = "http://sat.example"

	adapters, sensor := buildAdapters(cfg, config.Credentials{}, noLastKnown{}, clockwork.NewFakeClock(), zap.NewNop())

	if sensor == nil {
		t.Fatal("buildAdapters() sensor adapter should be returned when enabled")
	}

	want := []string{"sensor", "government", "satellite", "model"}
	if len(adapters) != len(want) {
		t.Fatalf("buildAdapters() returned %d adapters, want %d", len(adapters), len(want))
	}
	for i, a := range adapters {
		if a.Name() != want[i] {
			t.Errorf("adapter[%d] = %s, want %s", i, a.Name(), want[i])
		}
	}
}

func TestBuildAdapters_OnlyFallback(t *testing.T) {
	cfg := config.Default()

	adapters, sensor := buildAdapters(cfg, config.Credentials{}, noLastKnown{}, clockwork.NewFakeClock(), zap.NewNop())

	if sensor != nil {
		t.Error("buildAdapters() sensor adapter should be nil when disabled")
	}
	if len(adapters) != 1 || adapters[0].Name() != "model" {
		t.Errorf("buildAdapters() = %v, want only the model fallback", adapters)
	}
	if adapters[0].StalenessBound() != cfg.Sources.Fallback.Staleness {
		t.Errorf("fallback staleness = %v, want %v", adapters[0].StalenessBound(), cfg.Sources.Fallback.Staleness)
	}
}

func TestForecastModels_ConfiguredOverridesDefault(t *testing.T) {
	cfg := config.ForecastConfig{
		Models: map[string]config.ModelConfig{
			"DO": {Intercept: 1, Coefficients: make([]float64, forecast.FeatureCount)},
		},
	}

	m, err := forecastModels(cfg)
	if err != nil {
		t.Fatalf("forecastModels() error = %v", err)
	}

	values := map[models.Parameter]float64{models.ParamDO: 5}
	got, err := m[models.ParamDO].Predict(forecast.Features(models.ParamDO, values, time.Now(), 7))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if got != 1 {
		t.Errorf("Predict() = %v, want 1 from configured intercept", got)
	}
	if _, ok := m[models.ParamPH]; !ok {
		t.Error("forecastModels() should keep default pH model")
	}
}

func TestForecastModels_WrongCoefficientCount(t *testing.T) {
	cfg := config.ForecastConfig{
		Models: map[string]config.ModelConfig{
			"DO": {Intercept: 1, Coefficients: []float64{0, 0, 0, 0, 0, 0, 0}},
		},
	}

	if _, err := forecastModels(cfg); err == nil {
		t.Error("forecastModels() should reject a model sized for another feature layout")
	}
}

func TestConfidencePolicy_FromConfig(t *testing.T) {
	policy := confidencePolicy(config.ForecastConfig{
		Confidence: []config.ConfidenceBand{
			{MaxHorizon: 7, Confidence: 0.9},
			{MaxHorizon: 0, Confidence: 0.5},
		},
	})

	if got := policy(7); got != 0.9 {
		t.Errorf("Confidence(7) = %v, want 0.9", got)
	}
	if got := policy(30); got != 0.5 {
		t.Errorf("Confidence(30) = %v, want 0.5", got)
	}
}

func TestMergeStations(t *testing.T) {
	configured := []models.Station{{ID: "S1", Active: true}}
	stored := []models.Station{
		{ID: "S1", Name: "duplicate", Active: true},
		{ID: "S2", Active: true},
		{ID: "S3", Active: false},
	}

	got := mergeStations(configured, stored)

	if len(got) != 2 {
		t.Fatalf("mergeStations() returned %d stations, want 2", len(got))
	}
	if got[0].Name == "duplicate" {
		t.Error("mergeStations() should prefer configured stations")
	}
	if got[1].ID != "S2" {
		t.Errorf("mergeStations()[1] = %s, want S2", got[1].ID)
	}
}

type fakeLoops struct {
	known   map[string]bool
	stopped []string
}

func (f *fakeLoops) Deactivate(id string) bool {
	f.stopped = append(f.stopped, id)
	return f.known[id]
}

func TestStationControl_Deactivate(t *testing.T) {
	collector := &fakeLoops{known: map[string]bool{"S1": true}}
	forecasts := &fakeLoops{known: map[string]bool{"S1": true}}
	det := detector.NewAnomalyDetector(detector.DefaultRules(), detector.WithDrift(20, 3))
	c := stationControl{collector: collector, forecasts: forecasts, detector: det}

	if err := c.Deactivate(context.Background(), "S1"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if len(forecasts.stopped) != 1 {
		t.Error("Deactivate() should stop the forecast loop")
	}

	if err := c.Deactivate(context.Background(), "S9"); err == nil {
		t.Error("Deactivate() should fail for an unknown station")
	}
}

func TestDescriptor(t *testing.T) {
	d := descriptor("government", config.SourceConfig{Priority: 2, Staleness: time.Hour, LatencyBudget: time.Second})
	if d.Name() != "government" || d.Priority() != 2 || d.StalenessBound() != time.Hour || d.LatencyBudget() != time.Second {
		t.Errorf("descriptor() = %+v", d)
	}
}

func TestBuildPersistence_ClosesOpenedSinksOnError(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("DB_USER", "")
	t.Setenv("DATABASE_DSN", "rw:rw@tcp(127.0.0.1:1)/riverwatch?timeout=200ms")

	cfg := config.Default()
	cfg.Sinks.Redis.Enabled = true
	cfg.Sinks.MySQL.Enabled = true

	p, err := buildPersistence(context.Background(), cfg, zap.NewNop())
	if err == nil {
		p.Close()
		t.Fatal("buildPersistence() should fail when MySQL is unreachable")
	}
	if p != nil {
		t.Error("buildPersistence() should not return a partial persistence")
	}

	deadline := time.Now().Add(2 * time.Second)
	for mr.CurrentConnectionCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := mr.CurrentConnectionCount(); n != 0 {
		t.Errorf("redis connections left open = %d, want 0", n)
	}
}
