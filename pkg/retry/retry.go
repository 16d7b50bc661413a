// Package retry runs an operation under an exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes an exponential backoff. The n-th retry waits
// MinDelay*Factor^(n-1), capped at MaxDelay. MaxTimes bounds the number of
// retries after the first attempt; MaxTimes <= 0 retries until the context
// ends.
type Policy struct {
	Factor   float64       `yaml:"factor"`
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	MaxTimes int           `yaml:"max_times"`
}

var (
	// FetchPolicy is used for remote entity fetches.
	FetchPolicy = Policy{Factor: 1.5, MinDelay: time.Second, MaxDelay: 5 * time.Second, MaxTimes: 3}
	// ReconnectPolicy is used after a network drop.
	ReconnectPolicy = Policy{Factor: 1.2, MinDelay: 3 * time.Second, MaxDelay: 60 * time.Second}
)

// Exponential returns the unbounded delay sequence of p without jitter.
func (p Policy) Exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.MinDelay
	b.Multiplier = math.Max(p.Factor, 1)
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = math.MaxInt64
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// BackOff returns the delay sequence of p, stopping after MaxTimes retries
// or when ctx ends.
func (p Policy) BackOff(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff = p.Exponential()
	if p.MaxTimes > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxTimes))
	}
	return backoff.WithContext(b, ctx)
}

// Delay returns the wait before retry n, counting from 1.
func (p Policy) Delay(n int) time.Duration {
	b := p.Exponential()
	d := b.NextBackOff()
	for i := 1; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Permanent marks err as not worth retrying. Do returns the unwrapped err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err, or any error it wraps, was marked
// Permanent.
func IsPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

// Notify is called before each wait with the error that caused it.
type Notify func(err error, next time.Duration)

// Do calls fn until it succeeds, returns a permanent error, the retries are
// used up or ctx ends. If ctx ends before the first call or during a wait,
// ctx.Err() is returned; otherwise the last error of fn is.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), notify Notify) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	op := func() (T, error) { return fn(ctx) }
	return backoff.RetryNotifyWithData(op, p.BackOff(ctx), backoff.Notify(notify))
}
