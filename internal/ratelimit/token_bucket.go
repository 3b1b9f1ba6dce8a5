// Package ratelimit implements token bucket rate limiting for submission intake.
//
// The token bucket algorithm allows an author a small burst of submissions up
// to the bucket capacity while holding them to a sustained rate over time.
// Intake is bursty around events; the bucket absorbs that without letting one
// author flood the review queue.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a thread-safe token bucket rate limiter.
//
// The bucket has a fixed capacity and refills at a constant rate. Each
// submission consumes one token. When the bucket is empty, submissions are
// rejected until tokens refill.
type TokenBucket struct {
	capacity   int           // Maximum number of tokens the bucket can hold
	tokens     int           // Current number of tokens in the bucket
	refill     time.Duration // Interval at which one token is added
	lastRefill time.Time     // Last time tokens were added to the bucket
	mu         sync.Mutex    // Protects all bucket state
	hitCount   int64         // Number of submissions that were rate limited
	totalCount int64         // Total number of submissions processed
}

// NewTokenBucket creates a bucket holding at most capacity tokens, regaining
// one token per refill interval. The bucket starts full.
func NewTokenBucket(capacity int, refill time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refill:     refill,
		lastRefill: time.Now(),
	}
}

// Allow attempts to consume one token from the bucket.
//
// Returns true if a token was available and consumed. Tokens are refilled
// lazily based on elapsed time since the last refill.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.totalCount++

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	if tb.refill > 0 {
		tokensToAdd := int(elapsed / tb.refill)
		if tokensToAdd > 0 {
			tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
			tb.lastRefill = now
		}
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	tb.hitCount++
	return false
}

// Stats returns the number of rate limited and total submissions seen.
func (tb *TokenBucket) Stats() (hits, total int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.hitCount, tb.totalCount
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
