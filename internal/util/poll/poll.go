package poll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"
)

// ErrTimeout is returned when no probe matched within the budget.
var ErrTimeout = errors.New("timed out waiting for value")

// Patterns for the two polled value shapes.
var (
	// IPv4 matches a dotted-quad address, the shape of provider-assigned
	// load-balancer and cluster-DNS addresses.
	IPv4 = regexp.MustCompile(`^([0-9]{1,3}\.){3}[0-9]{1,3}$`)

	// OperationDone matches the terminal status of an asynchronous
	// compute operation.
	OperationDone = regexp.MustCompile(`^DONE$`)
)

// Config holds poll configuration.
type Config struct {
	// Interval is the delay between probes.
	Interval time.Duration

	sleep func(time.Duration)
}

// Option is a functional option for poll configuration.
type Option func(*Config)

// WithInterval sets the delay between probes.
func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Interval = d
	}
}

// UntilMatch invokes op up to timeoutSeconds times, once per second, and
// returns op's output as soon as it is non-empty and matches pattern.
//
// A probe that errors or returns a non-matching value counts as "not yet",
// never as an abort signal. If no probe matches within the budget,
// UntilMatch returns an error wrapping [ErrTimeout].
func UntilMatch(ctx context.Context, timeoutSeconds uint, pattern *regexp.Regexp, op func() (string, error), opts ...Option) (string, error) {
	cfg := &Config{
		Interval: time.Second,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	for probe := uint(1); probe <= timeoutSeconds; probe++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("cancelled during probe %d: %w", probe, err)
		}

		out, err := op()
		if err == nil && out != "" && pattern.MatchString(out) {
			return out, nil
		}
		if err != nil {
			log.Printf("probe %d/%d failed: %v", probe, timeoutSeconds, err)
		}

		if probe < timeoutSeconds {
			cfg.sleep(cfg.Interval)
		}
	}

	return "", fmt.Errorf("%w after %d probes", ErrTimeout, timeoutSeconds)
}
