package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrExhausted is returned when every attempt failed with a transient error.
// It is distinct from a successful call that produced an empty result.
var ErrExhausted = errors.New("retries exhausted")

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     bool // Exponential backoff: Delay, 2*Delay, 4*Delay...

	// OnRetry is called before each wait. Optional.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Default matches the external-call policy: 3 attempts, 2s, 4s, 8s.
func Default() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true}
}

// transientError marks an error as safe to retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so that Do retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried: explicitly marked
// errors and network-level failures are; everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Do calls fn until it succeeds, returns a permanent error, or the attempts
// run out. Exhaustion yields an error wrapping both ErrExhausted and the
// last failure.
func Do[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := config.Delay
		if config.Backoff {
			delay = config.Delay << (attempt - 1)
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// WithRetry is Do for calls that only return an error.
func WithRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := Do(ctx, config, func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
