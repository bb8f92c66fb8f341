package config

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	require.NoError(t, err)
	_, err = tmpFile.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

func resetSingleton() {
	instance = nil
	once = *new(sync.Once)
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `service:
  log_level: debug
stations:
  - id: "S1"
    name: "Yamuna at Okhla"
    latitude: 28.5355
    longitude: 77.2910
    basin: "Yamuna"
  - id: "S2"
    name: "Ganga at Varanasi"
    latitude: 25.3176
    longitude: 82.9739
    disabled: true
collection:
  interval: 2m
  max_attempts: 4
sources:
  sensor:
    enabled: true
    broker: "tcp://localhost:1883"
    staleness: 10m
  government:
    enabled: true
    base_url: "https://api.example.org"
forecast:
  horizons: [7, 30]
alerts:
  cooldown: 5m
`)
	resetSingleton()

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, "riverwatch", cfg.Service.Name, "default kept")
	assert.Len(t, cfg.Stations, 2)
	assert.Equal(t, 2*time.Minute, cfg.Collection.Interval)
	assert.Equal(t, 4, cfg.Collection.MaxAttempts)
	assert.True(t, cfg.Sources.Sensor.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Sources.Sensor.Staleness)
	assert.Equal(t, 1, cfg.Sources.Sensor.Priority)
	assert.Equal(t, "https://api.example.org", cfg.Sources.Government.BaseURL)
	assert.Equal(t, []int{7, 30}, cfg.Forecast.Horizons)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.Cooldown)
	assert.NotEmpty(t, cfg.Alerts.Thresholds)

	active := cfg.ActiveStations()
	require.Len(t, active, 1)
	assert.Equal(t, "S1", active[0].ID)
	assert.True(t, active[0].Active)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "invalid: [yaml: content")
	resetSingleton()

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	resetSingleton()

	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_NoStations(t *testing.T) {
	path := writeTempConfig(t, "service:\n  name: test\n")
	resetSingleton()

	_, err := Load(path)
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	path := writeTempConfig(t, "stations:\n  - id: S1\n")
	resetSingleton()

	_, err := Load(path)
	require.NoError(t, err)

	cfg := Get()
	require.NotNil(t, cfg)
	assert.Equal(t, "S1", cfg.Stations[0].ID)
}

func TestGet_Panic(t *testing.T) {
	resetSingleton()

	assert.Panics(t, func() { Get() })
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Stations = []StationConfig{{ID: "S1"}}
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"empty station id", func(c *Config) { c.Stations = []StationConfig{{ID: ""}} }, true},
		{"duplicate station", func(c *Config) { c.Stations = []StationConfig{{ID: "A"}, {ID: "A"}} }, true},
		{"no horizons", func(c *Config) { c.Forecast.Horizons = nil }, true},
		{"negative horizon", func(c *Config) { c.Forecast.Horizons = []int{7, -1} }, true},
		{"no sources", func(c *Config) { c.Sources.Fallback.Enabled = false }, true},
		{"bad operator", func(c *Config) { c.Alerts.Thresholds[0].Operator = ">=" }, true},
		{"ping slower than pong wait", func(c *Config) { c.Hub.PingPeriod = c.Hub.PongWait }, true},
		{"zero attempts", func(c *Config) { c.Collection.MaxAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
