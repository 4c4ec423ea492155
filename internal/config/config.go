// Package config loads runtime configuration. Precedence, lowest to
// highest: built-in defaults, the optional YAML file named by CONFIG_FILE,
// then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SERVER_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	// EventRatePerSec throttles the event-ingestion endpoints.
	EventRatePerSec float64 `yaml:"event_rate_per_sec" env:"SERVER_EVENT_RATE_PER_SEC"`
	EventBurst      int     `yaml:"event_burst" env:"SERVER_EVENT_BURST"`
}

// DatabaseConfig controls persistence. An empty DSN selects the in-memory
// store.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn" env:"DATABASE_URL"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// RedisConfig controls event publishing. An empty Addr selects the
// log-backed notifier.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// ReconcileConfig controls the scheduled ledger audit.
type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled" env:"RECONCILE_ENABLED"`
	Schedule string `yaml:"schedule" env:"RECONCILE_SCHEDULE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EventRatePerSec: 50,
			EventBurst:      100,
		},
		Database: DatabaseConfig{
			MigrateOnStart: true,
		},
		Redis: RedisConfig{
			Channel: "baobab.mlm.events",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
	}
}

// Load assembles configuration from defaults, the optional CONFIG_FILE YAML
// overlay and the environment.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Server.EventRatePerSec <= 0 {
		return errors.New("server.event_rate_per_sec must be positive")
	}
	if c.Server.EventBurst <= 0 {
		return errors.New("server.event_burst must be positive")
	}
	if c.Reconcile.Enabled && c.Reconcile.Schedule == "" {
		return errors.New("reconcile.schedule must be set when reconcile is enabled")
	}
	return nil
}
