// Package retry implements bounded exponential-backoff retries for the
// small set of engine calls that are safe to repeat (connect-transport,
// resume-consumer).
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config bounds one retry loop.
type Config struct {
	Enabled      bool
	MaxAttempts  int           // retries after the first attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff ceiling
	Multiplier   float64       // backoff factor, typically 2.0
	Jitter       bool          // randomize each delay by up to +-25%
}

// DefaultConfig returns a retry configuration suitable for idempotent
// engine calls.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry runs fn until it succeeds, the attempt budget is spent, or ctx is
// cancelled. With Enabled false it runs fn exactly once.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	if !cfg.Enabled {
		return fn()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-time.After(cfg.delay(attempt)):
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// RetryWithResult is Retry for functions that also return a value.
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// delay computes the backoff before retry number attempt+1.
func (cfg Config) delay(attempt int) time.Duration {
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if max := float64(cfg.MaxDelay); backoff > max {
		backoff = max
	}

	d := time.Duration(backoff)
	if cfg.Jitter && d > 0 {
		quarter := d / 4
		d = d - quarter + time.Duration(rand.Int63n(int64(2*quarter)+1))
	}
	return d
}
