package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the pool and its guards.
// Default returns a usable value for every field.
type Config struct {
	Pool    PoolConfig    `yaml:"pool"`
	Health  HealthConfig  `yaml:"health"`
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"circuit_breaker"`
}

// PoolConfig bounds the pool.
type PoolConfig struct {
	MaxBrowsers           int           `yaml:"max_browsers"`
	MaxContextsPerBrowser int           `yaml:"max_contexts_per_browser"`
	AcquirePollInterval   time.Duration `yaml:"acquire_poll_interval"`
	Headless              bool          `yaml:"headless"`
}

// HealthConfig bounds the health checker.
type HealthConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// RetryConfig configures the retry policy.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base"`
	Jitter          bool          `yaml:"jitter"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		Pool: PoolConfig{
			MaxBrowsers:           5,
			MaxContextsPerBrowser: 10,
			AcquirePollInterval:   100 * time.Millisecond,
			Headless:              true,
		},
		Health: HealthConfig{
			ProbeTimeout: 5 * time.Second,
			CacheTTL:     2 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialDelay:    time.Second,
			MaxDelay:        60 * time.Second,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
		},
	}
}

// Load reads a YAML config file, layering it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config from %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config from %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configured bounds.
func (c Config) Validate() error {
	if c.Pool.MaxBrowsers < 1 {
		return fmt.Errorf("pool.max_browsers must be at least 1, got %d", c.Pool.MaxBrowsers)
	}
	if c.Pool.MaxContextsPerBrowser < 1 {
		return fmt.Errorf("pool.max_contexts_per_browser must be at least 1, got %d", c.Pool.MaxContextsPerBrowser)
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health.probe_timeout must be positive, got %s", c.Health.ProbeTimeout)
	}
	if c.Health.CacheTTL <= 0 {
		return fmt.Errorf("health.cache_ttl must be positive, got %s", c.Health.CacheTTL)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry.initial_delay must be positive, got %s", c.Retry.InitialDelay)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay %s must not be below retry.initial_delay %s",
			c.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	if c.Retry.ExponentialBase <= 1.0 {
		return fmt.Errorf("retry.exponential_base must exceed 1.0, got %g", c.Retry.ExponentialBase)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("circuit_breaker.recovery_timeout must be positive, got %s", c.Breaker.RecoveryTimeout)
	}
	return nil
}
