// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Policy struct {
	// MaxAttempts counts the first try. Values below 1 mean a single try.
	MaxAttempts int
	Delay       time.Duration
	// Retryable decides whether a failed attempt may be repeated. A nil
	// Retryable never retries.
	Retryable func(error) bool
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, next time.Duration)
}

func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		value, err := op(ctx)
		if err != nil && (p.Retryable == nil || !p.Retryable(err)) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			p.OnRetry(attempt, err, next)
		}))
	}
	return backoff.Retry(ctx, wrapped, opts...)
}
