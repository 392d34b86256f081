package unifiedllm

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls how transient model errors are retried.
type RetryPolicy struct {
	// MaxRetries counts attempts after the first call.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps any single wait. A server Retry-After above it ends
	// retrying instead of waiting.
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter spreads each wait over [0.5, 1.5) of the computed delay.
	Jitter  bool
	OnRetry func(err error, attempt int, wait time.Duration)
}

// DefaultRetryPolicy retries twice with exponential backoff from one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay returns the backoff before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// wait picks the delay before retrying err, honoring Retry-After. ok is false
// when err should not be retried.
func (p RetryPolicy) wait(err error, attempt int) (time.Duration, bool) {
	if attempt >= p.MaxRetries || !IsRetryable(err) {
		return 0, false
	}
	if e, isErr := err.(*Error); isErr && e.RetryAfter > 0 {
		if p.MaxDelay > 0 && e.RetryAfter > p.MaxDelay {
			return 0, false
		}
		return e.RetryAfter, true
	}
	return p.Delay(attempt), true
}

// Do calls next until it succeeds, fails permanently or retries run out.
// Cancellation during a wait returns a KindAborted error.
func (p RetryPolicy) Do(ctx context.Context, req Request, next CompleteFunc) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := next(ctx, req)
		if err == nil {
			return resp, nil
		}
		delay, ok := p.wait(err, attempt)
		if !ok {
			return nil, err
		}
		if p.OnRetry != nil {
			p.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, newError(KindAborted, req.Provider, "cancelled while waiting to retry", ctx.Err())
		case <-timer.C:
		}
	}
}
