package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"riverwatch/internal/models"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the service configuration loaded from config.yaml
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Stations   []StationConfig  `yaml:"stations"`
	Collection CollectionConfig `yaml:"collection"`
	Sources    SourcesConfig    `yaml:"sources"`
	Forecast   ForecastConfig   `yaml:"forecast"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Hub        HubConfig        `yaml:"hub"`
	Sinks      SinksConfig      `yaml:"sinks"`
}

type ServiceConfig struct {
	Name            string        `yaml:"name"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	HTTPAddr        string        `yaml:"http_addr"`
	Workers         int           `yaml:"workers"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StationConfig struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Basin     string  `yaml:"basin"`
	Type      string  `yaml:"type"`
	Disabled  bool    `yaml:"disabled"`
}

type CollectionConfig struct {
	Interval       time.Duration `yaml:"interval"`
	CycleTimeout   time.Duration `yaml:"cycle_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`

	// readings whose source confidence is below SuspectConfidence are flagged suspect
	SuspectConfidence float64       `yaml:"suspect_confidence"`
	MaxFutureSkew     time.Duration `yaml:"max_future_skew"`
}

// SourceConfig holds the settings every adapter declares
type SourceConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Priority      int           `yaml:"priority"`
	Staleness     time.Duration `yaml:"staleness"`
	LatencyBudget time.Duration `yaml:"latency_budget"`
}

type SourcesConfig struct {
	Sensor struct {
		SourceConfig        `yaml:",inline"`
		Broker              string        `yaml:"broker"`
		ClientID            string        `yaml:"client_id"`
		TopicPrefix         string        `yaml:"topic_prefix"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
		RetryInterval       time.Duration `yaml:"retry_interval"`
	} `yaml:"sensor"`
	Government struct {
		SourceConfig `yaml:",inline"`
		BaseURL      string `yaml:"base_url"`
	} `yaml:"government"`
	Satellite struct {
		SourceConfig  `yaml:",inline"`
		BaseURL       string  `yaml:"base_url"`
		MaxCloudCover float64 `yaml:"max_cloud_cover"`
	} `yaml:"satellite"`
	Fallback struct {
		SourceConfig `yaml:",inline"`
		MaxAge       time.Duration `yaml:"max_age"`
		Confidence   float64       `yaml:"confidence"`
	} `yaml:"fallback"`
	Weather struct {
		Enabled  bool          `yaml:"enabled"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"weather"`
}

type ConfidenceBand struct {
	MaxHorizon int     `yaml:"max_horizon"`
	Confidence float64 `yaml:"confidence"`
}

type ModelConfig struct {
	Intercept    float64   `yaml:"intercept"`
	Coefficients []float64 `yaml:"coefficients"`
}

type ForecastConfig struct {
	Interval        time.Duration          `yaml:"interval"`
	CycleTimeout    time.Duration          `yaml:"cycle_timeout"`
	Horizons        []int                  `yaml:"horizons"`
	TrendEpsilonPct float64                `yaml:"trend_epsilon_pct"`
	Confidence      []ConfidenceBand       `yaml:"confidence"`
	Models          map[string]ModelConfig `yaml:"models"`
}

type ThresholdConfig struct {
	Parameter string  `yaml:"parameter"`
	Operator  string  `yaml:"operator"`
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
}

type AlertsConfig struct {
	Cooldown   time.Duration     `yaml:"cooldown"`
	Thresholds []ThresholdConfig `yaml:"thresholds"`
	Drift      struct {
		Enabled    bool    `yaml:"enabled"`
		Window     int     `yaml:"window"`
		ZThreshold float64 `yaml:"z_threshold"`
	} `yaml:"drift"`
}

type HubConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	PingPeriod      time.Duration `yaml:"ping_period"`
	PongWait        time.Duration `yaml:"pong_wait"`
	WriteWait       time.Duration `yaml:"write_wait"`
	MaxMissedPongs  int           `yaml:"max_missed_pongs"`
	AlertRetryDelay time.Duration `yaml:"alert_retry_delay"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
}

type SinksConfig struct {
	Buffer int `yaml:"buffer"`
	Redis  struct {
		Enabled        bool   `yaml:"enabled"`
		ReadingsStream string `yaml:"readings_stream"`
		AlertsStream   string `yaml:"alerts_stream"`
		MaxLen         int64  `yaml:"max_len"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled       bool   `yaml:"enabled"`
		ReadingsTopic string `yaml:"readings_topic"`
		AlertsTopic   string `yaml:"alerts_topic"`
	} `yaml:"kafka"`
	MySQL struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"mysql"`
}

// Load reads and validates the config file once. Later calls return the same instance.
func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		instance = Default()

		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			err = fmt.Errorf("failed to read config file %s: %w", configPath, readErr)
			return
		}

		if parseErr := yaml.Unmarshal(data, instance); parseErr != nil {
			err = fmt.Errorf("failed to parse config: %w", parseErr)
			return
		}

		if validateErr := instance.validate(); validateErr != nil {
			err = validateErr
			return
		}
	})

	return instance, err
}

func Get() *Config {
	if instance == nil {
		panic("config not loaded - call config.Load() first")
	}
	return instance
}

// Default returns the configuration used for anything config.yaml leaves out
func Default() *Config {
	c := &Config{}

	c.Service.Name = "riverwatch"
	c.Service.LogLevel = "info"
	c.Service.LogFormat = "json"
	c.Service.HTTPAddr = ":8080"
	c.Service.Workers = 32
	c.Service.ShutdownTimeout = 10 * time.Second

	c.Collection.Interval = 5 * time.Minute
	c.Collection.CycleTimeout = time.Minute
	c.Collection.MaxAttempts = 3
	c.Collection.BackoffInitial = 200 * time.Millisecond
	c.Collection.BackoffMax = 5 * time.Second
	c.Collection.SuspectConfidence = 0.7
	c.Collection.MaxFutureSkew = 5 * time.Minute

	c.Sources.Sensor.Priority = 1
	c.Sources.Sensor.Staleness = 15 * time.Minute
	c.Sources.Sensor.LatencyBudget = 2 * time.Second
	c.Sources.Sensor.ClientID = "riverwatch"
	c.Sources.Sensor.TopicPrefix = "water"
	c.Sources.Sensor.HealthCheckInterval = 5 * time.Minute
	c.Sources.Sensor.RetryInterval = 10 * time.Second

	c.Sources.Government.Priority = 2
	c.Sources.Government.Staleness = 24 * time.Hour
	c.Sources.Government.LatencyBudget = 10 * time.Second

	c.Sources.Satellite.Priority = 3
	c.Sources.Satellite.Staleness = 7 * 24 * time.Hour
	c.Sources.Satellite.LatencyBudget = 15 * time.Second
	c.Sources.Satellite.MaxCloudCover = 10

	c.Sources.Fallback.Enabled = true
	c.Sources.Fallback.Priority = 4
	c.Sources.Fallback.Staleness = time.Hour
	c.Sources.Fallback.LatencyBudget = time.Second
	c.Sources.Fallback.MaxAge = 48 * time.Hour
	c.Sources.Fallback.Confidence = 0.5

	c.Sources.Weather.CacheTTL = 30 * time.Minute

	c.Forecast.Interval = 15 * time.Minute
	c.Forecast.CycleTimeout = 30 * time.Second
	c.Forecast.Horizons = []int{7, 30, 90}
	c.Forecast.TrendEpsilonPct = 5
	c.Forecast.Confidence = []ConfidenceBand{
		{MaxHorizon: 7, Confidence: 0.85},
		{MaxHorizon: 30, Confidence: 0.75},
		{MaxHorizon: 0, Confidence: 0.65},
	}

	c.Alerts.Cooldown = 10 * time.Minute
	c.Alerts.Thresholds = []ThresholdConfig{
		{Parameter: string(models.ParamPH), Operator: "<", Warning: 6.0, Critical: 5.0},
		{Parameter: string(models.ParamPH), Operator: ">", Warning: 9.0, Critical: 10.0},
		{Parameter: string(models.ParamDO), Operator: "<", Warning: 5.0, Critical: 4.0},
		{Parameter: string(models.ParamBOD), Operator: ">", Warning: 5.0, Critical: 10.0},
		{Parameter: string(models.ParamFC), Operator: ">", Warning: 2500, Critical: 10000},
		{Parameter: string(models.ParamTurbidity), Operator: ">", Warning: 10, Critical: 50},
	}
	c.Alerts.Drift.Enabled = true
	c.Alerts.Drift.Window = 50
	c.Alerts.Drift.ZThreshold = 2.5

	c.Hub.QueueSize = 256
	c.Hub.PongWait = 60 * time.Second
	c.Hub.PingPeriod = (c.Hub.PongWait * 9) / 10
	c.Hub.WriteWait = 10 * time.Second
	c.Hub.MaxMissedPongs = 2
	c.Hub.AlertRetryDelay = 500 * time.Millisecond
	c.Hub.MaxMessageSize = 4096

	c.Sinks.Buffer = 1024
	c.Sinks.Redis.ReadingsStream = "riverwatch:readings"
	c.Sinks.Redis.AlertsStream = "riverwatch:alerts"
	c.Sinks.Redis.MaxLen = 100000
	c.Sinks.Kafka.ReadingsTopic = "riverwatch.readings"
	c.Sinks.Kafka.AlertsTopic = "riverwatch.alerts"

	return c
}

// ActiveStations returns the configured stations that are not disabled
func (c *Config) ActiveStations() []models.Station {
	var out []models.Station
	for _, s := range c.Stations {
		if s.Disabled {
			continue
		}
		out = append(out, models.Station{
			ID:        s.ID,
			Name:      s.Name,
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Basin:     s.Basin,
			Type:      s.Type,
			Active:    true,
		})
	}
	return out
}

func (c *Config) validate() error {
	if len(c.Stations) == 0 {
		return fmt.Errorf("stations cannot be empty")
	}
	seen := make(map[string]bool, len(c.Stations))
	for _, s := range c.Stations {
		if s.ID == "" {
			return fmt.Errorf("station id cannot be empty")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate station id %q", s.ID)
		}
		seen[s.ID] = true
	}

	if c.Collection.Interval <= 0 || c.Forecast.Interval <= 0 {
		return fmt.Errorf("collection.interval and forecast.interval must be positive")
	}
	if c.Collection.MaxAttempts < 1 {
		return fmt.Errorf("collection.max_attempts must be at least 1")
	}
	if len(c.Forecast.Horizons) == 0 {
		return fmt.Errorf("forecast.horizons cannot be empty")
	}
	for _, h := range c.Forecast.Horizons {
		if h <= 0 {
			return fmt.Errorf("forecast horizon must be positive, got %d", h)
		}
	}

	if !c.Sources.Sensor.Enabled && !c.Sources.Government.Enabled &&
		!c.Sources.Satellite.Enabled && !c.Sources.Fallback.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}

	for _, th := range c.Alerts.Thresholds {
		if th.Operator != "<" && th.Operator != ">" {
			return fmt.Errorf("threshold for %s: operator must be < or >, got %q", th.Parameter, th.Operator)
		}
	}

	if c.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub.queue_size must be positive")
	}
	if c.Hub.PingPeriod >= c.Hub.PongWait {
		return fmt.Errorf("hub.ping_period must be shorter than hub.pong_wait")
	}

	return nil
}
