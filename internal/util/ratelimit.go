package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket sized for broker REST quotas. It holds up to
// burst tokens and refills at perMinute tokens per minute.
type RateLimiter struct {
	mu       sync.Mutex
	perSec   float64
	burst    float64
	tokens   float64
	refilled time.Time
}

// NewRateLimiter allows perMinute calls per minute with a burst of one. A
// non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return NewBurstLimiter(perMinute, 1)
}

// NewBurstLimiter is NewRateLimiter with room for burst back-to-back calls.
func NewBurstLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		perSec:   float64(perMinute) / 60,
		burst:    float64(burst),
		tokens:   float64(burst),
		refilled: time.Now(),
	}
}

// refill must be called with mu held. It returns how long until the next
// token is available.
func (rl *RateLimiter) refill(now time.Time) time.Duration {
	rl.tokens += now.Sub(rl.refilled).Seconds() * rl.perSec
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.refilled = now
	if rl.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.perSec * float64(time.Second))
}

// Allow takes a token if one is available without waiting.
func (rl *RateLimiter) Allow() bool {
	if rl.perSec <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.refill(time.Now()) > 0 {
		return false
	}
	rl.tokens--
	return true
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.perSec <= 0 {
		return ctx.Err()
	}
	for {
		rl.mu.Lock()
		wait := rl.refill(time.Now())
		if wait == 0 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
