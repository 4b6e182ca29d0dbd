// ratelimit.go - Per-trader token-bucket rate limiting for order submission.

package api

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled on a fixed period.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   time.Now(),
		refillPeriod: refillPeriod,
	}
}

// Allow consumes one token if available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	refillCount := int(now.Sub(rl.lastRefill) / rl.refillPeriod)
	if refillCount > 0 {
		rl.tokens += refillCount * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// TraderRateLimiter manages one bucket per trader address.
type TraderRateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*RateLimiter
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
}

// NewTraderRateLimiter creates the per-trader limiter set.
func NewTraderRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *TraderRateLimiter {
	return &TraderRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
	}
}

// Allow checks the bucket for one trader, creating it on first use.
func (trl *TraderRateLimiter) Allow(trader string) bool {
	trl.mu.Lock()
	limiter, ok := trl.limiters[trader]
	if !ok {
		limiter = NewRateLimiter(trl.maxTokens, trl.refillRate, trl.refillPeriod)
		trl.limiters[trader] = limiter
	}
	trl.mu.Unlock()
	return limiter.Allow()
}
