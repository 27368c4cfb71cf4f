package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrRetriesExhausted is returned when every attempt within the budget failed.
// The underlying operation errors are logged per attempt but only the last one
// is carried in the returned error's message.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Config holds retry configuration.
type Config struct {
	// Interval is the fixed delay between attempts.
	Interval time.Duration

	// Refresh, if set, runs after a failed attempt and before the next one.
	// It is used to re-acquire cluster credentials when endpoint or token
	// churn invalidates a previously working context. A refresh failure is
	// logged and the next attempt proceeds anyway.
	Refresh func() error

	sleep func(time.Duration)
}

// Option is a functional option for retry configuration.
type Option func(*Config)

// WithInterval sets the delay between attempts.
func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Interval = d
	}
}

// WithRefresh sets a credential-refresh hook invoked between failed attempts.
func WithRefresh(fn func() error) Option {
	return func(c *Config) {
		c.Refresh = fn
	}
}

// Do invokes op up to maxAttempts times (inclusive of the first attempt),
// sleeping Config.Interval between attempts. It returns nil as soon as op
// succeeds. If every attempt fails, or maxAttempts is zero, it returns an
// error wrapping [ErrRetriesExhausted].
//
// Do never sleeps after the final attempt, so an eventual success on attempt
// N has slept exactly N-1 times.
func Do(ctx context.Context, maxAttempts uint, op func() error, opts ...Option) error {
	cfg := &Config{
		Interval: 2 * time.Second,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var lastErr error
	for attempt := uint(1); attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled before attempt %d: %w", attempt, err)
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Printf("attempt %d/%d failed: %v", attempt, maxAttempts, err)

		if attempt == maxAttempts {
			break
		}
		if cfg.Refresh != nil {
			if rerr := cfg.Refresh(); rerr != nil {
				log.Printf("credential refresh failed: %v", rerr)
			}
		}
		cfg.sleep(cfg.Interval)
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, maxAttempts, lastErr)
	}
	return fmt.Errorf("%w: attempt budget is zero", ErrRetriesExhausted)
}
