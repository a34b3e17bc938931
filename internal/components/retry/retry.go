// Package retry separates what is retried from how often and how long to wait
// between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded retry policy. MaxAttempts counts the first attempt.
type Policy struct {
	MaxAttempts int
	NewBackOff  func() backoff.BackOff
}

// Exponential doubles the wait after each failure starting at base, never
// waiting longer than ceiling.
func Exponential(maxAttempts int, base, ceiling time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(base),
				backoff.WithMaxInterval(ceiling),
				backoff.WithMultiplier(2),
				backoff.WithRandomizationFactor(0),
				backoff.WithMaxElapsedTime(0),
			)
		},
	}
}

// Constant waits the same delay before every retry.
func Constant(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(delay)
		},
	}
}

// Permanent marks err as not worth retrying, Do returns the unwrapped err immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Operation is a single attempt, attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Notify is called after a failed attempt with the wait before the next one.
type Notify func(err error, wait time.Duration)

// Do runs op until it succeeds, returns a permanent error, ctx is done or the
// attempts run out. The last attempt's error is returned.
func (p Policy) Do(ctx context.Context, op Operation, notify Notify) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(p.NewBackOff(), uint64(maxAttempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op(ctx, attempt)
	}, b, backoff.Notify(notify))
}
