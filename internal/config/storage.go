package config

import (
	"fmt"
	"strings"
)

// StorageDriver selects the durable backend for assignments and occurrence
// records.
type StorageDriver string

const (
	// StorageDriverMemory keeps everything in process memory. Confirmed
	// assignments do not survive a restart; intended for tests and previews.
	StorageDriverMemory StorageDriver = "memory"
	// StorageDriverSQLite is the default embedded store.
	StorageDriverSQLite StorageDriver = "sqlite"
	// StorageDriverPostgres backs the engine with PostgreSQL for server-side
	// deployments.
	StorageDriverPostgres StorageDriver = "postgres"
	// StorageDriverRedis backs the engine with Redis for multi-instance
	// server-side deployments.
	StorageDriverRedis StorageDriver = "redis"
)

// StorageConfig configures the durable assignment/occurrence store.
type StorageConfig struct {
	Driver StorageDriver `envconfig:"DRIVER" default:"sqlite"`

	// Path is the SQLite database file (sqlite driver only).
	Path string `envconfig:"PATH" default:"tollgate.db"`

	// DSN is the PostgreSQL connection string (postgres driver only).
	DSN string `envconfig:"DSN"`

	// Redis connection settings (redis driver only).
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Validate checks that the selected driver has the settings it needs.
func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case StorageDriverMemory:
		return nil
	case StorageDriverSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("storage: sqlite driver requires a database path")
		}
		return nil
	case StorageDriverPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("storage: postgres driver requires a DSN")
		}
		return nil
	case StorageDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("storage: redis driver requires an address")
		}
		return nil
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Driver)
	}
}
