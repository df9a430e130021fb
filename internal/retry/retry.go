package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries      = 2
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
)

// Operation is one attempt; nil means success
type Operation func() error

// ShouldRetryFunc tells whether a failed attempt may be repeated
type ShouldRetryFunc func(error) bool

// Config controls the backoff schedule
type Config struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns the schedule used for article fetches
func DefaultConfig() Config {
	return Config{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// Do runs op with exponential backoff until it succeeds, shouldRetry rejects
// the error, the retries run out or ctx ends. The last error of op is returned.
func Do(ctx context.Context, cfg Config, name string, op Operation, shouldRetry ShouldRetryFunc) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(b, cfg.MaxRetries), ctx)

	var lastErr error
	permanent := false
	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(attempt, bo)
	switch {
	case err == nil:
		return nil
	case permanent:
		return lastErr
	case ctx.Err() != nil && !errors.Is(lastErr, ctx.Err()):
		return fmt.Errorf("%s: %w (last error: %v)", name, ctx.Err(), lastErr)
	case cfg.MaxRetries == 0:
		return lastErr
	}
	return fmt.Errorf("%s: gave up after %d retries: %w", name, cfg.MaxRetries, lastErr)
}
