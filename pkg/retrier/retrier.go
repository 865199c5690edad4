// Package retrier implements bounded retries with a fixed delay between
// attempts. The delay is deliberately constant, not exponential: it exists to
// ride out transient aggregator or RPC hiccups, and the caller bounds the
// total attempt count instead of the total duration.
package retrier

import (
	"context"
	"time"
)

const (
	defaultDelay      = 3 * time.Second
	defaultMaxRetries = 1
)

// Retrier re-runs a function a bounded number of times with a fixed pause
// between attempts.
type Retrier struct {
	delay      time.Duration
	maxRetries int
	onRetry    func(attempt int, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithDelay sets the pause before each retry.
func WithDelay(d time.Duration) Option {
	return func(r *Retrier) {
		r.delay = d
	}
}

// WithMaxRetries sets how many retries follow the initial attempt.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithOnRetry registers a hook invoked before each retry with the upcoming
// attempt number (1-based) and the error that triggered it.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		delay:      defaultDelay,
		maxRetries: defaultMaxRetries,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do executes fn until it succeeds or retries are exhausted, returning the
// last error. The pause before a retry respects ctx cancellation.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if r.onRetry != nil {
				r.onRetry(attempt, err)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.delay):
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
	}

	return err
}

// DoWithData executes fn with retries and returns its value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
