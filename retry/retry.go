// Package retry provides bounded retries with exponential backoff and
// jitter. Errors are retried unless wrapped with MarkPermanent.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseWait   = 500 * time.Millisecond
)

// Option configures a Do call.
type Option func(*config)

type config struct {
	maxRetries int
	baseWait   time.Duration
}

// WithMaxRetries sets how many additional attempts follow the first one.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the backoff base wait.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// permanentError wraps an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// MarkPermanent wraps err so Do returns it without further attempts.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs f, retrying on failure with exponential backoff (factor 2) and
// ±20% jitter. It stops on success, on a permanent error, on context
// cancellation, or once the attempts are exhausted. The last error is
// returned unwrapped from any permanent marker.
func Do(ctx context.Context, f func() error, opts ...Option) error {
	cfg := &config{
		maxRetries: DefaultMaxRetries,
		baseWait:   DefaultBaseWait,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(float64(cfg.baseWait) * math.Pow(2, float64(attempt-1)))
			jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait + jitter):
			}
		}
		err := f()
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		lastErr = err
	}
	return lastErr
}
