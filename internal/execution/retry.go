package execution

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"futures-agent/internal/binance"
)

// Policy bounds one intent's submission attempts
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Backoff overrides the exponential schedule when set
	Backoff func(category binance.ErrorCategory, attempt int) time.Duration
}

// categoryBackOff adapts the wait to the category of the last failure.
// Precision, reduce-only and duplicate-order errors are corrected before the
// next attempt and retry immediately; rate limits wait twice as long.
type categoryBackOff struct {
	policy  Policy
	exp     *backoff.ExponentialBackOff
	attempt int
	lastErr error
}

func (b *categoryBackOff) NextBackOff() time.Duration {
	category := binance.CategoryOf(b.lastErr)
	if b.policy.Backoff != nil {
		return b.policy.Backoff(category, b.attempt)
	}
	d := b.exp.NextBackOff()
	if d == backoff.Stop {
		return backoff.Stop
	}
	switch category {
	case binance.CategoryPrecision, binance.CategoryReduceOnlyConflict, binance.CategoryDuplicateOrder:
		return 0
	case binance.CategoryRateLimited:
		d *= 2
		if b.policy.MaxInterval > 0 && d > 2*b.policy.MaxInterval {
			d = 2 * b.policy.MaxInterval
		}
	}
	return d
}

func (b *categoryBackOff) Reset() {
	b.attempt = 0
	b.lastErr = nil
	b.exp.Reset()
}

// Retry calls op until it succeeds, returns a backoff.Permanent error, the
// attempt ceiling is reached or ctx is done. op receives the 1-based attempt
// number. The last error is returned unwrapped.
func Retry(ctx context.Context, p Policy, op func(attempt int) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	cb := &categoryBackOff{policy: p, exp: newExponential(p)}
	bo := backoff.WithContext(backoff.WithMaxRetries(cb, uint64(p.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		cb.attempt++
		err := op(cb.attempt)
		cb.lastErr = err
		return err
	}, bo)
}

func newExponential(p Policy) *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return exp
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}
