// Package retry provides bounded retry with exponential backoff for remote
// storage operations.
package retry

import (
	"context"
	"time"
)

// Config defines retry behavior.
type Config struct {
	// MaxRetries is the number of additional attempts after the first
	// failure. Zero disables retrying.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// BaseDelay is the wait before the first retry; it doubles for each
	// subsequent retry, so waits strictly increase.
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the gateway's default retry policy: two extra
// attempts, 2s then 4s.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
	}
}

// Retryer executes functions under a bounded retry policy. The sleep
// function is replaceable for tests.
type Retryer struct {
	config Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Retryer with the given configuration.
func New(config Config) *Retryer {
	if config.BaseDelay <= 0 {
		config.BaseDelay = 2 * time.Second
	}
	return &Retryer{config: config, sleep: sleepCtx}
}

// WithSleep returns a Retryer using a custom sleep function.
func (r *Retryer) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Retryer {
	clone := *r
	clone.sleep = sleep
	return &clone
}

// Do runs fn until it succeeds or the retry ceiling is reached. It returns
// the number of attempts made and the final error, nil on success. Waits
// between attempts double each round and never busy-wait; a canceled
// context aborts the wait.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var lastErr error
	maxAttempts := r.config.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt < maxAttempts {
			delay := r.config.BaseDelay << (attempt - 1)
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, lastErr, delay)
			}
			if err := r.sleep(ctx, delay); err != nil {
				return attempt, lastErr
			}
		}
	}

	return maxAttempts, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
