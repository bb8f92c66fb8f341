package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

const defaultDSN = "riverwatch:riverwatch@tcp(localhost:3306)/riverwatch?parseTime=true"

// DatabaseConfig holds the MySQL connection settings read from the environment
type DatabaseConfig struct {
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT"`
	Name     string `env:"DB_NAME"`
	URL      string `env:"DATABASE_DSN"`
}

// DSN returns the connection string.
// The individual DB_* variables win when all are set, then DATABASE_DSN, then a local default.
func (c DatabaseConfig) DSN() string {
	if c.User != "" && c.Password != "" && c.Host != "" && c.Port != "" && c.Name != "" {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", c.User, c.Password, c.Host, c.Port, c.Name)
	}
	if c.URL != "" {
		return c.URL
	}
	return defaultDSN
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
}

// Credentials are secrets for the external source adapters
type Credentials struct {
	MQTTUsername     string `env:"MQTT_USERNAME"`
	MQTTPassword     string `env:"MQTT_PASSWORD"`
	GovernmentAPIKey string `env:"GOV_API_KEY"`
	SatelliteAPIKey  string `env:"SATELLITE_API_KEY"`
	SensorBroker     string `env:"MQTT_BROKER"`
	GovernmentURL    string `env:"GOV_API_URL"`
	SatelliteURL     string `env:"SATELLITE_API_URL"`
}

func LoadDatabaseConfig() (DatabaseConfig, error) {
	return env.ParseAs[DatabaseConfig]()
}

func LoadRedisConfig() (RedisConfig, error) {
	cfg, err := env.ParseAs[RedisConfig]()
	if err != nil {
		return RedisConfig{}, fmt.Errorf("failed to parse redis config: %w", err)
	}
	return cfg, nil
}

func LoadKafkaConfig() (KafkaConfig, error) {
	return env.ParseAs[KafkaConfig]()
}

func LoadCredentials() (Credentials, error) {
	return env.ParseAs[Credentials]()
}

// ApplyCredentials lets the environment override adapter endpoints from the file
func (c *Config) ApplyCredentials(creds Credentials) {
	if creds.SensorBroker != "" {
		c.Sources.Sensor.Broker = creds.SensorBroker
	}
	if creds.GovernmentURL != "" {
		c.Sources.Government.BaseURL = creds.GovernmentURL
	}
	if creds.SatelliteURL != "" {
		c.Sources.Satellite.BaseURL = creds.SatelliteURL
	}
}
