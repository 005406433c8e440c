package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// NetworkConfig configures the remote collaborator used for trigger config
// fetches and assignment confirmations. When BaseURL is empty the engine runs
// fully offline: configuration must be supplied through UpdateConfig and
// confirmations stay pending.
type NetworkConfig struct {
	BaseURL string `envconfig:"BASE_URL"`
	APIKey  string `envconfig:"API_KEY"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=1,max=10"`
	RetryBackoff   time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms"`

	// RefreshInterval controls how often the background worker re-fetches the
	// trigger configuration.
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"15m"`
}

// IsConfigured reports whether a remote collaborator was configured at all.
func (c *NetworkConfig) IsConfigured() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}

// Validate checks the network settings. Production requires HTTPS and an API
// key; development tolerates plain HTTP against local services.
func (c *NetworkConfig) Validate(environment string) error {
	if !c.IsConfigured() {
		return nil
	}

	allowedSchemes := []string{"http", "https"}
	if environment == EnvironmentProduction {
		allowedSchemes = []string{"https"}
	}

	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("network: failed to parse base URL: %w", err)
	}
	if !slices.Contains(allowedSchemes, parsed.Scheme) {
		return fmt.Errorf("network: invalid scheme %q, must be one of: %v", parsed.Scheme, allowedSchemes)
	}
	if parsed.Host == "" {
		return fmt.Errorf("network: host is required in base URL")
	}

	if environment == EnvironmentProduction && strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("network: API key is required in production")
	}

	return nil
}
