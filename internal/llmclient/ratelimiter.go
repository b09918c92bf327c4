package llmclient

import (
	"sync"
	"time"
)

// RateLimiter is a dual-bucket token-bucket limiter: one bucket counts
// requests per minute, the other counts estimated tokens per minute.
// A call must pass both checks before it is admitted; waiting for one
// bucket to refill restarts the other's refill clock too, matching the
// single-lock-protected refill-then-wait-then-consume sequence of the
// reference rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute float64
	tokensPerMinute   float64

	requestBucket float64
	tokenBucket   float64

	lastUpdate time.Time

	// sleep is overridable in tests to avoid real waits.
	sleep func(time.Duration)
}

// NewRateLimiter creates a limiter starting with both buckets full.
func NewRateLimiter(requestsPerMinute, tokensPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 50
	}
	if tokensPerMinute <= 0 {
		tokensPerMinute = 40000
	}
	return &RateLimiter{
		requestsPerMinute: float64(requestsPerMinute),
		tokensPerMinute:   float64(tokensPerMinute),
		requestBucket:     float64(requestsPerMinute),
		tokenBucket:       float64(tokensPerMinute),
		lastUpdate:        time.Now(),
		sleep:             time.Sleep,
	}
}

func (r *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(r.lastUpdate)
	if elapsed <= 0 {
		return
	}
	minutes := elapsed.Minutes()
	r.requestBucket = min(r.requestBucket+minutes*r.requestsPerMinute, r.requestsPerMinute)
	r.tokenBucket = min(r.tokenBucket+minutes*r.tokensPerMinute, r.tokensPerMinute)
	r.lastUpdate = now
}

// WaitIfNeeded blocks until both the request bucket has >= 1 unit and
// the token bucket has >= tokens units, then consumes them. It returns
// the duration actually waited, for metrics.
func (r *RateLimiter) WaitIfNeeded(tokens int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.refillLocked(now)

	var wait time.Duration
	if r.requestBucket < 1 {
		requestWait := (1 - r.requestBucket) / r.requestsPerMinute * 60
		wait = max(wait, time.Duration(requestWait*float64(time.Second)))
	}
	if r.tokenBucket < float64(tokens) {
		tokenWait := (float64(tokens) - r.tokenBucket) / r.tokensPerMinute * 60
		wait = max(wait, time.Duration(tokenWait*float64(time.Second)))
	}

	if wait > 0 {
		r.sleep(wait)
		after := now.Add(wait)
		minutes := wait.Minutes()
		r.requestBucket = min(r.requestBucket+minutes*r.requestsPerMinute, r.requestsPerMinute)
		r.tokenBucket = min(r.tokenBucket+minutes*r.tokensPerMinute, r.tokensPerMinute)
		r.lastUpdate = after
	}

	r.requestBucket--
	r.tokenBucket -= float64(tokens)
	return wait
}

// Tokens returns the current token bucket level, for diagnostics.
func (r *RateLimiter) Tokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillLocked(time.Now())
	return r.tokenBucket
}
