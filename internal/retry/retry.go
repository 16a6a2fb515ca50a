// Package retry is the single retry policy used at every remote boundary:
// notification delivery, source fetches, reasoning calls and state writes.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how many times and how patiently an operation is retried.
type Policy struct {
	MaxAttempts uint
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// Jitter is the randomization factor in [0,1].
	Jitter float64
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(err error, wait time.Duration)
}

// Notification is the delivery policy: 4 attempts, 1s doubling to 20s.
func Notification() Policy {
	return Policy{MaxAttempts: 4, Initial: time.Second, Max: 20 * time.Second, Multiplier: 2, Jitter: 0.5}
}

// Remote is the policy for source fetches and reasoning calls.
func Remote() Policy {
	return Policy{MaxAttempts: 3, Initial: 2 * time.Second, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.5}
}

// Persistence is the policy for local durable writes.
func Persistence() Policy {
	return Policy{MaxAttempts: 5, Initial: 50 * time.Millisecond, Max: time.Second, Multiplier: 2, Jitter: 0.3}
}

// Permanent marks err as not retryable regardless of the predicate.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// ExponentialBackOff builds the backoff schedule for p.
func (p Policy) ExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts or ctx ends. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	op := func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if IsPermanent(err) {
			return v, err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.ExponentialBackOff()),
		backoff.WithMaxTries(attempts),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(p.OnRetry))
	}

	v, err := backoff.Retry(ctx, op, opts...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return v, perm.Err
	}
	return v, err
}
