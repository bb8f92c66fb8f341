package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"riverwatch/internal/config"
	"riverwatch/internal/database"
	"riverwatch/internal/ingest"
	"riverwatch/internal/logger"
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

	zl, err := logger.NewLogger(cfg.Service.LogLevel, cfg.Service.LogFormat, cfg.Service.Name+"-store")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	redisCfg, err := config.LoadRedisConfig()
	if err != nil {
		zl.Fatal("Failed to read redis config", zap.Error(err))
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	defer redisClient.Close()

	dbCfg, err := config.LoadDatabaseConfig()
	if err != nil {
		zl.Fatal("Failed to read database config", zap.Error(err))
	}
	db, err := database.NewDB(dbCfg.DSN())
	if err != nil {
		zl.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	hostname, _ := os.Hostname()
	consumer := ingest.NewConsumer(redisClient, db, ingest.Options{
		ReadingsStream: cfg.Sinks.Redis.ReadingsStream,
		AlertsStream:   cfg.Sinks.Redis.AlertsStream,
		Group:          "riverwatch_store",
		Consumer:       "store-" + hostname,
	}, zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.EnsureGroups(ctx); err != nil {
		zl.Fatal("Failed to create consumer groups", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		zl.Info("Shutting down store service...")
		cancel()
	}()

	if err := consumer.Run(ctx); err != nil {
		zl.Error("Store service failed", zap.Error(err))
	}
	zl.Info("Store service stopped")
}
