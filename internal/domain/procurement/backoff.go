package procurement

import (
	"math"
	"time"
)

// RetryPolicy bounds dispatch retries
type RetryPolicy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	MaxAttempts    int
}

// DefaultRetryPolicy returns the dispatch defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:      2 * time.Second,
		MaxDelay:       10 * time.Minute,
		JitterFraction: 0.2,
		MaxAttempts:    5,
	}
}

// Delay is the wait before retrying after the given failed attempt number:
// min(base*2^attempt + jitter, cap), jitter in [0, base*2^attempt*fraction).
// With fraction <= 1 the result never decreases as attempt grows.
// rnd returns a value in [0,1); nil disables jitter. MaxDelay <= 0 means no
// cap, and the delay saturates at the largest Duration instead.
func (p RetryPolicy) Delay(attempt int, rnd func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt >= 62 {
		return p.ceiling()
	}
	exp := p.BaseDelay << uint(attempt)
	if exp <= 0 || exp>>uint(attempt) != p.BaseDelay || (p.MaxDelay > 0 && exp >= p.MaxDelay) {
		return p.ceiling()
	}

	frac := p.JitterFraction
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	delay := exp
	if rnd != nil && frac > 0 {
		jitter := rnd() * frac * float64(exp)
		if jitter >= float64(math.MaxInt64-exp) {
			return p.ceiling()
		}
		delay += time.Duration(jitter)
		if delay < exp {
			return p.ceiling()
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) ceiling() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return time.Duration(math.MaxInt64)
}

// Exhausted reports whether attempts have reached the configured maximum
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
