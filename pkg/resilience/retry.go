package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig configures retry behavior. It is a value object: construct it
// once and read it on every retry decision.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt, so an
	// operation runs at most MaxRetries+1 times. Zero means a single
	// attempt with no retries.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	// Default: 1s
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 60s
	MaxDelay time.Duration

	// ExponentialBase is the backoff multiplier.
	// Default: 2.0
	ExponentialBase float64

	// Jitter adds up to 25% random variance to each delay to avoid
	// synchronized retry storms.
	// Default: false (set DefaultRetryConfig().Jitter for the usual true)
	Jitter bool

	// RetryIf determines whether an error is retryable. Errors it rejects
	// propagate immediately without any delay.
	// Default: all non-nil errors are retryable.
	RetryIf func(err error) bool
}

// DefaultRetryConfig returns the standard configuration for browser
// operations.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Delay returns the backoff delay after the attempt-th failure (attempt
// starts at 1): min(InitialDelay * ExponentialBase^(attempt-1), MaxDelay),
// plus up to 25% uniform jitter when enabled.
func (c RetryConfig) Delay(attempt int) time.Duration {
	backoff := float64(c.InitialDelay) * math.Pow(c.ExponentialBase, float64(attempt-1))
	delay := time.Duration(math.Min(backoff, float64(c.MaxDelay)))

	if c.Jitter && delay > 0 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Float64() * 0.25 * float64(delay))
	}

	return delay
}

// Retry wraps operations with exponential backoff.
type Retry struct {
	config RetryConfig
	logger *zap.Logger
}

// NewRetry creates a retry handler, applying defaults for zero-valued
// config fields. MaxRetries is taken as configured: zero is a valid
// no-retries setting, so the usual 3 comes from DefaultRetryConfig, not
// from here.
func NewRetry(config RetryConfig, logger *zap.Logger) *Retry {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 60 * time.Second
	}
	if config.ExponentialBase <= 0 {
		config.ExponentialBase = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retry{config: config, logger: logger}
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

// Execute runs op up to MaxRetries+1 times. Non-retryable errors propagate
// immediately; after the final attempt the last error is returned verbatim,
// never wrapped, so callers see the original failure kind. The backoff wait
// aborts early if ctx is cancelled.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxRetries+1; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.RetryIf(err) {
			return err
		}

		if attempt > r.config.MaxRetries {
			r.logger.Error("operation failed after retries exhausted",
				zap.Int("retries", r.config.MaxRetries),
				zap.Error(err))
			break
		}

		delay := r.config.Delay(attempt)
		r.logger.Warn("retrying operation",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.config.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
