package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"riverwatch/internal/config"
	"riverwatch/internal/database"
	"riverwatch/internal/detector"
	"riverwatch/internal/forecast"
	"riverwatch/internal/models"
	"riverwatch/internal/sink"
	"riverwatch/internal/source"
)

func descriptor(name string, sc config.SourceConfig) source.Descriptor {
	return source.Descriptor{
		AdapterName: name,
		Rank:        sc.Priority,
		Staleness:   sc.Staleness,
		Budget:      sc.LatencyBudget,
	}
}

// buildAdapters creates the enabled adapters. The sensor adapter is returned
// separately so the caller can connect and disconnect it.
func buildAdapters(cfg *config.Config, creds config.Credentials, last source.LastKnown, clock clockwork.Clock, logger *zap.Logger) ([]source.Adapter, *source.SensorAdapter) {
	var adapters []source.Adapter
	var sensor *source.SensorAdapter
	src := cfg.Sources

	if src.Sensor.Enabled {
		health := source.NewHealthMonitor(src.Sensor.HealthCheckInterval, clock)
		sensor = source.NewSensorAdapter(source.SensorOptions{
			Descriptor:    descriptor("sensor", src.Sensor.SourceConfig),
			Broker:        src.Sensor.Broker,
			ClientID:      src.Sensor.ClientID,
			Username:      creds.MQTTUsername,
			Password:      creds.MQTTPassword,
			TopicPrefix:   src.Sensor.TopicPrefix,
			RetryInterval: src.Sensor.RetryInterval,
		}, health, clock, logger)
		adapters = append(adapters, sensor)
	}
	if src.Government.Enabled {
		adapters = append(adapters, source.NewGovernmentAdapter(
			descriptor("government", src.Government.SourceConfig),
			src.Government.BaseURL, creds.GovernmentAPIKey, logger))
	}
	if src.Satellite.Enabled {
		adapters = append(adapters, source.NewSatelliteAdapter(
			descriptor("satellite", src.Satellite.SourceConfig),
			src.Satellite.BaseURL, creds.SatelliteAPIKey, src.Satellite.MaxCloudCover, logger))
	}
	if src.Fallback.Enabled {
		adapters = append(adapters, source.NewFallbackAdapter(
			descriptor("model", src.Fallback.SourceConfig),
			last, src.Fallback.MaxAge, src.Fallback.Confidence, clock))
	}
	return source.Chain(adapters...), sensor
}

func forecastModels(cfg config.ForecastConfig) (map[models.Parameter]forecast.Regressor, error) {
	configured := make(map[string]forecast.LinearModel, len(cfg.Models))
	for name, m := range cfg.Models {
		configured[name] = forecast.LinearModel{Intercept: m.Intercept, Coefficients: m.Coefficients}
	}
	return forecast.BuildModels(configured)
}

func confidencePolicy(cfg config.ForecastConfig) forecast.ConfidencePolicy {
	if len(cfg.Confidence) == 0 {
		return forecast.StepConfidence(forecast.DefaultBands)
	}
	bands := make([]forecast.Band, 0, len(cfg.Confidence))
	for _, b := range cfg.Confidence {
		bands = append(bands, forecast.Band{MaxHorizon: b.MaxHorizon, Confidence: b.Confidence})
	}
	return forecast.StepConfidence(bands)
}

func buildDetector(cfg config.AlertsConfig) *detector.AnomalyDetector {
	rules := detector.RulesFromConfig(cfg.Thresholds)
	if len(rules) == 0 {
		rules = detector.DefaultRules()
	}
	var opts []detector.Option
	if cfg.Drift.Enabled {
		opts = append(opts, detector.WithDrift(cfg.Drift.Window, cfg.Drift.ZThreshold))
	}
	return detector.NewAnomalyDetector(rules, opts...)
}

// persistence holds the configured sinks and what must be closed on shutdown
type persistence struct {
	sinks   sink.Multi
	db      *database.DB
	redis   *redis.Client
	kafka   *sink.Kafka
	closers []func()
}

// buildPersistence opens every enabled sink. On error whatever was already
// opened is closed again.
func buildPersistence(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *persistence, err error) {
	p := &persistence{}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	if cfg.Sinks.Redis.Enabled {
		redisCfg, err := config.LoadRedisConfig()
		if err != nil {
			return nil, err
		}
		p.redis = redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		if err := p.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not reachable yet, stream writes will be retried per record", zap.Error(err))
		}
		p.closers = append(p.closers, func() { p.redis.Close() })
		r := cfg.Sinks.Redis
		p.sinks = append(p.sinks, sink.NewRedisStream(p.redis, r.ReadingsStream, r.AlertsStream, r.MaxLen))
	}

	if cfg.Sinks.Kafka.Enabled {
		kafkaCfg, err := config.LoadKafkaConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to parse kafka config: %w", err)
		}
		p.kafka = sink.NewKafka(kafkaCfg.Brokers, cfg.Sinks.Kafka.ReadingsTopic, cfg.Sinks.Kafka.AlertsTopic)
		p.closers = append(p.closers, func() { p.kafka.Close() })
		p.sinks = append(p.sinks, p.kafka)
	}

	if cfg.Sinks.MySQL.Enabled {
		dbCfg, err := config.LoadDatabaseConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to parse database config: %w", err)
		}
		p.db, err = database.NewDB(dbCfg.DSN())
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func() { p.db.Close() })
		// with a Redis stream in place the store worker owns the MySQL writes
		if !cfg.Sinks.Redis.Enabled {
			p.sinks = append(p.sinks, p.db)
		}
	}

	return p, nil
}

func (p *persistence) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

type loopControl interface {
	Deactivate(stationID string) bool
}

// stationControl deactivates a station across every component that tracks it
type stationControl struct {
	collector loopControl
	forecasts loopControl
	detector  *detector.AnomalyDetector
	db        *database.DB
}

func (c stationControl) Deactivate(ctx context.Context, stationID string) error {
	if !c.collector.Deactivate(stationID) {
		return fmt.Errorf("unknown station %s", stationID)
	}
	c.forecasts.Deactivate(stationID)
	if c.detector != nil {
		c.detector.Forget(stationID)
	}
	if c.db != nil {
		if err := c.db.DeactivateStation(ctx, stationID); err != nil {
			return errors.Join(errors.New("station stopped but not marked inactive in storage"), err)
		}
	}
	return nil
}

// mergeStations adds stored stations that config.yaml does not list
func mergeStations(configured, stored []models.Station) []models.Station {
	seen := make(map[string]bool, len(configured))
	out := append([]models.Station(nil), configured...)
	for _, s := range configured {
		seen[s.ID] = true
	}
	for _, s := range stored {
		if !seen[s.ID] && s.Active {
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out
}
