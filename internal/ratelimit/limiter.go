package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/openmodqueue/openmodqueue/internal/observability"
)

// AuthorLimiter manages intake rate limiting per author.
//
// Each author gets its own token bucket, created lazily on first submission.
// The limiter integrates with an injected metrics registry to track rate
// limiting activity.
type AuthorLimiter struct {
	buckets map[string]*TokenBucket       // Map of author key to token bucket
	mu      sync.RWMutex                  // Protects the buckets map
	config  Config                        // Rate limiting configuration
	metrics observability.MetricsRegistry // Metrics registry for tracking rate limiting activity
}

// Config holds the configuration for intake rate limiting.
type Config struct {
	Capacity     int           // Token bucket capacity (burst allowance)
	RefillPeriod time.Duration // Interval at which one token is regained
	Enabled      bool          // Whether rate limiting is active
}

// NewAuthorLimiter creates a new per-author rate limiter.
func NewAuthorLimiter(config Config, metrics observability.MetricsRegistry) *AuthorLimiter {
	return &AuthorLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
	}
}

// Allow checks whether a submission from the given author should be accepted.
//
// If rate limiting is disabled via config, this method always returns true.
// Buckets are created on demand for new authors.
func (al *AuthorLimiter) Allow(authorKey string) bool {
	if !al.config.Enabled {
		return true
	}

	al.metrics.IncrementRateLimitRequests(authorKey)

	al.mu.RLock()
	bucket, exists := al.buckets[authorKey]
	al.mu.RUnlock()

	if !exists {
		// Double-checked locking pattern to avoid race conditions
		al.mu.Lock()
		bucket, exists = al.buckets[authorKey]
		if !exists {
			bucket = NewTokenBucket(al.config.Capacity, al.config.RefillPeriod)
			al.buckets[authorKey] = bucket
		}
		al.mu.Unlock()
	}

	allowed := bucket.Allow()
	if !allowed {
		al.metrics.IncrementRateLimitHits(authorKey)
	}
	return allowed
}

// Stats contains rate limiting statistics for a single author.
type Stats struct {
	AuthorKey string  `json:"AuthorKey"`
	Hits      int64   `json:"Hits"`
	Total     int64   `json:"Total"`
	HitRate   float64 `json:"HitRate"`
}

// String returns a human-readable representation of the statistics.
func (s Stats) String() string {
	return fmt.Sprintf("Author %s: %d/%d hits (%.2f%%)",
		s.AuthorKey, s.Hits, s.Total, s.HitRate*100)
}

// GetStats returns a snapshot of rate limiting statistics for all authors.
func (al *AuthorLimiter) GetStats() map[string]Stats {
	al.mu.RLock()
	defer al.mu.RUnlock()

	stats := make(map[string]Stats)
	for authorKey, bucket := range al.buckets {
		hits, total := bucket.Stats()
		hitRate := 0.0
		if total > 0 {
			hitRate = float64(hits) / float64(total)
		}
		stats[authorKey] = Stats{
			AuthorKey: authorKey,
			Hits:      hits,
			Total:     total,
			HitRate:   hitRate,
		}
	}
	return stats
}
