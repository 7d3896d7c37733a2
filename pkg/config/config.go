// Package config loads and validates the server configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pool type selection for the placeholder store backend.
const (
	PoolTypeLocal = "local"
	PoolTypeRedis = "redis"
)

// Config represents the server configuration. It is immutable after
// startup: the runtime takes a copy and never re-reads it.
type Config struct {
	// Host is the advertised hostname of this server.
	Host string `yaml:"host"`
	// Port is the port the transport layer binds.
	Port int `yaml:"port"`
	// ServerID identifies this server instance.
	ServerID string `yaml:"server_id"`
	// StudioURL is an optional observability sink; empty disables
	// studio reporting.
	StudioURL string `yaml:"studio_url"`

	// PoolType selects the placeholder store backend: "local" or "redis".
	PoolType string `yaml:"pool_type"`
	// RedisURL is the address of the shared backend when pool_type=redis.
	RedisURL string `yaml:"redis_url"`
	// MaxPoolSize caps the placeholder store size (local backend).
	MaxPoolSize int `yaml:"max_pool_size"`
	// MaxExpireTime is the placeholder TTL in seconds.
	MaxExpireTime int `yaml:"max_expire_time"`
	// MaxTimeoutSeconds bounds each call and the shutdown drain.
	MaxTimeoutSeconds int `yaml:"max_timeout_seconds"`
	// NumWorkers is the worker pool size.
	NumWorkers int `yaml:"num_workers"`
	// LocalMode binds to loopback only instead of all interfaces.
	LocalMode bool `yaml:"local_mode"`

	// Metrics configures the observability HTTP server.
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	// RateLimit configures the optional dispatch rate limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// MetricsConfig configures the metrics/health HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns the observability server on.
	Enabled bool `yaml:"enabled"`
	// Port is the observability server port (default: 9090).
	Port int `yaml:"port"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled"`
	// Exporter is "stdout" or "none".
	Exporter string `yaml:"exporter"`
}

// RateLimitConfig configures the dispatch rate limiter. Disabled unless
// RequestsPerSecond is positive.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns a Config with the stock defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 12310
	}
	if c.PoolType == "" {
		c.PoolType = PoolTypeLocal
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("AGENTHOST_REDIS_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379"
	}
	if c.StudioURL == "" {
		c.StudioURL = os.Getenv("AGENTHOST_STUDIO_URL")
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 8192
	}
	if c.MaxExpireTime == 0 {
		c.MaxExpireTime = 7200
	}
	if c.MaxTimeoutSeconds == 0 {
		c.MaxTimeoutSeconds = 1800
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = 32
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.PoolType != PoolTypeLocal && c.PoolType != PoolTypeRedis {
		return fmt.Errorf("pool_type must be %q or %q, got %q", PoolTypeLocal, PoolTypeRedis, c.PoolType)
	}
	if c.PoolType == PoolTypeRedis && c.RedisURL == "" {
		return fmt.Errorf("redis_url is required when pool_type=%s", PoolTypeRedis)
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("num_workers must be at least 1, got %d", c.NumWorkers)
	}
	if c.MaxExpireTime < 0 || c.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// BindAddr returns the address the transport should bind, honoring the
// loopback-only flag.
func (c *Config) BindAddr() string {
	if c.LocalMode {
		return fmt.Sprintf("127.0.0.1:%d", c.Port)
	}
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}
