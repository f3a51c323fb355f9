package binance

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle bounds the request rate against the exchange and attaches the
// per-call timeout. Every gateway call goes through call().
type Throttle struct {
	limiter *rate.Limiter
	timeout time.Duration
}

// NewThrottle creates a limiter allowing rps requests per second with burst
func NewThrottle(rps float64, burst int, timeout time.Duration) *Throttle {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 1
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
	}
}

// call waits for a token, then runs fn under a bounded context
func (t *Throttle) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return fn(callCtx)
}
