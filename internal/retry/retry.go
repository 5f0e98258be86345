package retry

import (
	"context"
	"errors"
	"time"
)

// Config controls how often and how quickly an operation is retried.
type Config struct {
	MaxRetries int           // maximum number of attempts
	Delay      time.Duration // delay before the second attempt
	Backoff    float64       // delay multiplier applied after each attempt
}

// DefaultConfig matches the historical client behavior: three attempts,
// one second apart, doubling each time.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, Delay: time.Second, Backoff: 2}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as terminal: Do returns it immediately instead of
// retrying. Validation failures and auth rejections should be wrapped with
// this so only transient errors burn retry attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs fn up to cfg.MaxRetries times, sleeping cfg.Delay (scaled by
// cfg.Backoff after each attempt) between failures, and returns the first
// success or the last error.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1
	}

	delay := cfg.Delay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var pe *permanentError
		if errors.As(err, &pe) {
			return zero, pe.err
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			delay = time.Duration(float64(delay) * cfg.Backoff)
		}
	}

	return zero, lastErr
}
