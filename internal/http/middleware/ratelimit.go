// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the edge rate limiter: an in-memory token bucket per
// client identity (golang.org/x/time/rate) with opportunistic eviction of
// idle buckets. It protects the process from abusive callers; the business
// limit on webhook notifications is applied per tenant by the ingest
// service, after the tenant is known.
//
// The limiter is process-local. Behind several replicas each one enforces
// its own budget.
package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	bucketIdleTTL  = 10 * time.Minute
	sweepEveryHits = 5000
)

// KeyFunc selects the identity used to key a rate-limit bucket.
type KeyFunc func(*gin.Context) string

// KeyByIP keys buckets by client IP.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// KeyByTenantOrIP prefers the :id route parameter of tenant-scoped routes
// and falls back to the client IP.
func KeyByTenantOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if id := strings.TrimSpace(c.Param("id")); id != "" {
			return "tenant:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc
	skip  map[string]struct{}

	mu      sync.Mutex
	buckets map[string]*bucket
	hits    uint64
	ttl     time.Duration
	now     func() time.Time
}

// NewRateLimiter builds a limiter allowing rps tokens per second with the
// given burst (coerced to at least 1). Requests whose route matches one of
// skipPaths are never limited.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc, skipPaths ...string) *RateLimiter {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		keyFn:   keyFn,
		skip:    skip,
		buckets: make(map[string]*bucket),
		ttl:     bucketIdleTTL,
		now:     time.Now,
	}
}

// limiterFor returns the bucket for key, creating it when absent. Every
// sweepEveryHits lookups idle buckets are evicted first, so a stale bucket
// is dropped even when it is the one being requested.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.hits++
	if rl.hits >= sweepEveryHits {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.hits = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// Handler returns the Gin middleware. Denied requests get 429 with the
// standard error envelope and Retry-After: 1.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := rl.skip[c.FullPath()]; ok {
			c.Next()
			return
		}
		if rl.limiterFor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
