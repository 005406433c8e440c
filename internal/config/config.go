// Package config provides centralized configuration for the Tollgate engine.
// It uses envconfig for environment variable loading and validator for
// validation. A host application may also build a Config directly and hand it
// to tollgate.New; Load is for processes configured through the environment,
// such as the debug evaluation server.
package config

import (
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvironmentProduction is the production environment identifier.
	EnvironmentProduction = "production"
)

// Config holds the complete engine configuration.
type Config struct {
	App     AppConfig     `envconfig:"APP"`
	Storage StorageConfig `envconfig:"STORAGE"`
	Network NetworkConfig `envconfig:"NETWORK"`
	Cache   CacheConfig   `envconfig:"CACHE"`
	Debug   DebugConfig   `envconfig:"DEBUG"`
}

// AppConfig contains core SDK settings.
type AppConfig struct {
	Name        string `envconfig:"NAME" default:"tollgate"`
	Version     string `envconfig:"VERSION" default:"dev"`
	Environment string `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	// Locale keys the paywall cache alongside the response identifier.
	Locale string `envconfig:"LOCALE" default:"en_US"`
}

// Load reads configuration from environment variables with the TOLLGATE prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process("TOLLGATE", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration suitable for embedding the SDK without any
// environment plumbing: in-memory storage, no network collaborator.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "tollgate",
			Version:     "dev",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "text",
			Locale:      "en_US",
		},
		Storage: StorageConfig{Driver: StorageDriverMemory},
		Cache:   CacheConfig{Capacity: defaultCacheCapacity, TTL: defaultCacheTTL},
	}
}

// Validate performs validation on the loaded configuration using
// go-playground/validator plus per-section custom checks.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if err := c.Network.Validate(c.App.Environment); err != nil {
		return err
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}

	return nil
}

// LogConfig logs the current configuration without sensitive data.
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.String("locale", c.App.Locale),
		slog.String("storage_driver", string(c.Storage.Driver)),
		slog.Bool("network_configured", c.Network.IsConfigured()),
		slog.Int("cache_capacity", c.Cache.Capacity),
		slog.Duration("cache_ttl", c.Cache.TTL),
	)
}
