// Package ratelimit paces outbound requests to historical data providers.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Wait blocks until the rate limiter permits an action or context is canceled
	Wait(ctx context.Context) error
	// Allow returns true if an action can be performed immediately
	Allow() bool
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	rate       float64   // tokens per second
	burst      int       // maximum burst size
	tokens     float64   // current tokens
	lastUpdate time.Time // last time tokens were added
	mu         sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter
// rate: requests per second
// burst: maximum burst size (set to 1 for strictly paced requests)
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// NewPerMinute creates a limiter that admits requestsPerMinute requests,
// evenly spaced, with a burst of one. Data providers declare their quota in
// requests per minute.
func NewPerMinute(requestsPerMinute int) Limiter {
	if requestsPerMinute <= 0 {
		return NewNoOpLimiter()
	}
	return NewTokenBucket(float64(requestsPerMinute)/60.0, 1)
}

// refill adds tokens based on elapsed time
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastUpdate).Seconds()

	tb.tokens += elapsed * tb.rate

	// Cap at burst size
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}

	tb.lastUpdate = now
}

// Wait blocks until a token is available or context is canceled
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()

		if tb.tokens >= 1.0 {
			tb.tokens -= 1.0
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time
		tokensNeeded := 1.0 - tb.tokens
		waitDuration := time.Duration(tokensNeeded / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDuration):
			// Try again on the next iteration
		}
	}
}

// Allow returns true if a token is immediately available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}

	return false
}

// NoOpLimiter is a rate limiter that never blocks
type NoOpLimiter struct{}

// NewNoOpLimiter creates a limiter that allows all requests
func NewNoOpLimiter() *NoOpLimiter {
	return &NoOpLimiter{}
}

func (n *NoOpLimiter) Wait(ctx context.Context) error {
	return nil
}

func (n *NoOpLimiter) Allow() bool {
	return true
}
