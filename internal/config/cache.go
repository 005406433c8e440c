package config

import (
	"fmt"
	"time"
)

const (
	defaultCacheCapacity = 64
	defaultCacheTTL      = 24 * time.Hour
)

// CacheConfig configures the in-memory paywall content cache.
type CacheConfig struct {
	// Capacity is the hard cap on cached paywalls. One entry per
	// (identifier, locale) pair; paywall fleets are small, so the default is
	// generous.
	Capacity int `envconfig:"CAPACITY" default:"64"`

	// TTL bounds staleness of cached content between full config refreshes.
	TTL time.Duration `envconfig:"TTL" default:"24h"`
}

// Validate checks cache limits.
func (c *CacheConfig) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("cache: capacity must be >= 1, got %d", c.Capacity)
	}
	if c.TTL < time.Minute {
		return fmt.Errorf("cache: ttl must be >= 1m, got %s", c.TTL)
	}
	return nil
}

// DebugConfig configures the optional local debug evaluation server.
type DebugConfig struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8750"`
}
