// Package config loads query cache settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/query-cache/pkg/cache"
	"github.com/Sternrassler/query-cache/pkg/logging"
	"github.com/Sternrassler/query-cache/pkg/query"
	"github.com/caarlos0/env/v11"
)

// ErrMissingUpstream is returned by ValidateProxy when UPSTREAM_URL is unset.
var ErrMissingUpstream = errors.New("UPSTREAM_URL is required")

// Config holds all environment-driven settings.
type Config struct {
	// Logging
	LogLevel  string `env:"QUERY_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"QUERY_LOG_PRETTY" envDefault:"false"`

	// Query defaults
	SweepInterval  time.Duration `env:"QUERY_SWEEP_INTERVAL" envDefault:"60s"`
	StaleAfter     time.Duration `env:"QUERY_STALE_AFTER" envDefault:"30s"`
	EvictAfter     time.Duration `env:"QUERY_EVICT_AFTER" envDefault:"5m"`
	MaxRetries     int           `env:"QUERY_MAX_RETRIES" envDefault:"1"`
	RetryDelay     time.Duration `env:"QUERY_RETRY_DELAY" envDefault:"1s"`
	RefetchOnFocus bool          `env:"QUERY_REFETCH_ON_FOCUS" envDefault:"false"`

	// Invalidation bus (disabled when RedisURL is empty)
	RedisURL            string `env:"REDIS_URL"`
	InvalidationChannel string `env:"QUERY_INVALIDATION_CHANNEL" envDefault:"query:invalidate"`

	// Proxy
	Port            string        `env:"PORT" envDefault:"8080"`
	UpstreamURL     string        `env:"UPSTREAM_URL"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	// Tracing (disabled when OTelEndpoint is empty)
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"query-proxy"`
}

// Load reads Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that struct tags cannot express.
func (c Config) Validate() error {
	switch {
	case c.SweepInterval <= 0:
		return fmt.Errorf("QUERY_SWEEP_INTERVAL must be > 0 (got %v)", c.SweepInterval)
	case c.StaleAfter < 0:
		return fmt.Errorf("QUERY_STALE_AFTER must be >= 0 (got %v)", c.StaleAfter)
	case c.EvictAfter < 0:
		return fmt.Errorf("QUERY_EVICT_AFTER must be >= 0 (got %v)", c.EvictAfter)
	case c.MaxRetries < 0:
		return fmt.Errorf("QUERY_MAX_RETRIES must be >= 0 (got %d)", c.MaxRetries)
	case c.RetryDelay < 0:
		return fmt.Errorf("QUERY_RETRY_DELAY must be >= 0 (got %v)", c.RetryDelay)
	}
	return nil
}

// ValidateProxy checks the settings only the proxy needs.
func (c Config) ValidateProxy() error {
	if c.UpstreamURL == "" {
		return ErrMissingUpstream
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("UPSTREAM_URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("UPSTREAM_URL must be absolute (got %q)", c.UpstreamURL)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be > 0 (got %v)", c.UpstreamTimeout)
	}
	return nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	cfg.Service = c.ServiceName
	return cfg
}

// QueryOptions returns unit options for key using the configured defaults.
func (c Config) QueryOptions(key string) query.Options {
	opts := query.DefaultOptions(key)
	opts.StaleAfter = c.StaleAfter
	opts.EvictAfter = c.EvictAfter
	opts.MaxRetries = c.MaxRetries
	opts.RetryDelay = c.RetryDelay
	opts.RefetchOnFocus = c.RefetchOnFocus
	return opts
}

// Client returns the query client configuration. Bus, Reporter and Logger
// are left for the caller to wire.
func (c Config) Client() query.Config {
	cfg := query.DefaultConfig()
	cfg.SweepInterval = c.SweepInterval
	return cfg
}

// Channel returns the invalidation channel, falling back to the default.
func (c Config) Channel() string {
	if c.InvalidationChannel == "" {
		return cache.DefaultInvalidationChannel
	}
	return c.InvalidationChannel
}
