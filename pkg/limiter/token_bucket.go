// Package limiter provides the process-local admission primitives used by
// the SurgeGate middleware chain: a refillable token bucket and a sliding
// window counter. Both are safe for concurrent use and never block.
package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a fixed-capacity refillable counter. Tokens accumulate at
// a configured rate up to the capacity and one token is consumed per
// admitted request. The bucket is backed by rate.Limiter; the invariant
// 0 <= tokens <= capacity is maintained by the library on every call.
type TokenBucket struct {
	mu  sync.Mutex
	lim *rate.Limiter

	ratePerSec float64
	capacity   int
}

// NewTokenBucket creates a bucket that refills at ratePerSec tokens per
// second up to capacity. The bucket starts full.
func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return &TokenBucket{
		lim:        rate.NewLimiter(rate.Limit(ratePerSec), capacity),
		ratePerSec: ratePerSec,
		capacity:   capacity,
	}
}

// Allow consumes one token if available. It never blocks.
func (b *TokenBucket) Allow() bool {
	return b.lim.Allow()
}

// AllowAt consumes one token evaluated at the given time. Tests use this to
// drive the refill clock without sleeping.
func (b *TokenBucket) AllowAt(t time.Time) bool {
	return b.lim.AllowN(t, 1)
}

// Reconfigure changes the refill rate and capacity in place. The current
// token count is preserved and clamped to the new capacity on the next
// refill computation; it never goes negative.
func (b *TokenBucket) Reconfigure(ratePerSec float64, capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lim.SetLimit(rate.Limit(ratePerSec))
	b.lim.SetBurst(capacity)
	b.ratePerSec = ratePerSec
	b.capacity = capacity
}

// Tokens reports the number of tokens currently available.
func (b *TokenBucket) Tokens() float64 {
	return b.lim.Tokens()
}

// Rate reports the configured refill rate in tokens per second.
func (b *TokenBucket) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ratePerSec
}

// Capacity reports the configured capacity.
func (b *TokenBucket) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}
