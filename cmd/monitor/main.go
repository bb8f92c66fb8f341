package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"riverwatch/internal/alert"
	"riverwatch/internal/api"
	"riverwatch/internal/config"
	"riverwatch/internal/forecast"
	"riverwatch/internal/hub"
	"riverwatch/internal/logger"
	"riverwatch/internal/models"
	"riverwatch/internal/orchestrator"
	"riverwatch/internal/schedule"
	"riverwatch/internal/server"
	"riverwatch/internal/sink"
	"riverwatch/internal/wqi"
)

func main() {
	configPath := "./config.yaml"
	if p := os.Getenv("RIVERWATCH_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	creds, err := config.LoadCredentials()
	if err != nil {
		log.Fatalf("Failed to read credentials: %v", err)
	}
	cfg.ApplyCredentials(creds)

	zl, err := logger.NewLogger(cfg.Service.LogLevel, cfg.Service.LogFormat, cfg.Service.Name)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	pool := schedule.NewPool(cfg.Service.Workers)
	scheduler := schedule.NewScheduler(pool, clock, zl)

	p, err := buildPersistence(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Failed to initialize persistence", zap.Error(err))
	}
	defer p.Close()

	var persist sink.Sink
	var async *sink.Async
	if len(p.sinks) > 0 {
		async = sink.NewAsync("persistence", p.sinks, cfg.Sinks.Buffer, zl)
		persist = async
	}

	h := hub.New(hub.Config{
		QueueSize:       cfg.Hub.QueueSize,
		PingPeriod:      cfg.Hub.PingPeriod,
		PongWait:        cfg.Hub.PongWait,
		WriteWait:       cfg.Hub.WriteWait,
		MaxMissedPongs:  cfg.Hub.MaxMissedPongs,
		AlertRetryDelay: cfg.Hub.AlertRetryDelay,
		MaxMessageSize:  cfg.Hub.MaxMessageSize,
	}, clock, zl)

	var alertSink alert.Sink
	if persist != nil {
		alertSink = persist
	}
	dispatcher := alert.NewDispatcher(cfg.Alerts.Cooldown, h, alertSink, clock, zl)
	det := buildDetector(cfg.Alerts)

	store := orchestrator.NewCurrentStore()
	adapters, sensor := buildAdapters(cfg, creds, store, clock, zl)
	if sensor != nil {
		if err := sensor.Connect(); err != nil {
			zl.Error("MQTT connect failed, sensor adapter will report unavailable", zap.Error(err))
		}
		defer sensor.Disconnect()
	}

	validator := wqi.NewValidator(
		wqi.WithClock(clock),
		wqi.WithSuspectConfidence(cfg.Collection.SuspectConfidence),
		wqi.WithMaxFutureSkew(cfg.Collection.MaxFutureSkew),
	)
	orchOpts := orchestrator.Options{
		Adapters:     adapters,
		Validator:    validator,
		Store:        store,
		Broadcaster:  h,
		Evaluator:    det,
		Dispatcher:   dispatcher,
		Scheduler:    scheduler,
		Clock:        clock,
		Logger:       zl,
		Interval:     cfg.Collection.Interval,
		CycleTimeout: cfg.Collection.CycleTimeout,
		Retry: orchestrator.RetryPolicy{
			MaxAttempts: cfg.Collection.MaxAttempts,
			Initial:     cfg.Collection.BackoffInitial,
			Max:         cfg.Collection.BackoffMax,
		},
	}
	if persist != nil {
		orchOpts.Sink = persist
	}
	if cfg.Sources.Weather.Enabled {
		orchOpts.Enricher = api.NewTemperatureEnricher(api.NewOpenMeteoClient(api.DefaultBaseURL), cfg.Sources.Weather.CacheTTL, clock)
	}
	orch := orchestrator.New(orchOpts)

	regressors, err := forecastModels(cfg.Forecast)
	if err != nil {
		zl.Fatal("Invalid forecast model config", zap.Error(err))
	}
	engine := forecast.NewEngine(forecast.Options{
		Models:       regressors,
		Horizons:     cfg.Forecast.Horizons,
		Policy:       confidencePolicy(cfg.Forecast),
		TrendEpsilon: cfg.Forecast.TrendEpsilonPct,
		Baselines:    store,
		Broadcaster:  h,
		Evaluator:    det,
		Dispatcher:   dispatcher,
		Scheduler:    scheduler,
		Clock:        clock,
		Logger:       zl,
		Interval:     cfg.Forecast.Interval,
		CycleTimeout: cfg.Forecast.CycleTimeout,
	})

	stations := cfg.ActiveStations()
	if p.db != nil {
		stored, err := p.db.GetStations(ctx, true)
		if err != nil {
			zl.Warn("Failed to load stations from database", zap.Error(err))
		}
		stations = mergeStations(stations, stored)
	}
	orch.Run(ctx, stations)
	engine.Run(ctx, stations)

	deps := server.Deps{
		Collector: orch,
		Current:   store,
		Forecasts: engine,
		Streams:   h,
		Control:   stationControl{collector: orch, forecasts: engine, detector: det, db: p.db},
	}
	if p.db != nil {
		deps.Alerts = p.db
	} else {
		deps.Alerts = server.AlertsFunc(func(_ context.Context, stationID string, limit int) ([]models.Alert, error) {
			return dispatcher.Recent(stationID, limit), nil
		})
	}
	if sensor != nil {
		deps.Sensors = sensor.Health()
	}
	srv := server.NewServer(deps, zl)

	go func() {
		if err := srv.Start(cfg.Service.HTTPAddr); err != nil {
			zl.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	zl.Info("Monitor started",
		zap.Int("stations", len(stations)),
		zap.Int("adapters", len(adapters)),
		zap.Int("workers", pool.Size()),
		zap.Int("sinks", len(p.sinks)),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	zl.Info("Shutting down monitor...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	cancel()
	scheduler.Stop()
	h.Close()
	if async != nil {
		async.Close()
	}
	zl.Info("Monitor stopped")
}
