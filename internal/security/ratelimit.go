package security

import (
	"context"
	"sync"
	"time"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// tokenBucket is a thread-safe token bucket, adapted from
// pkg/limits/ratelimit/token_bucket.go: tokens refill continuously based
// on elapsed monotonic time rather than being reset on a fixed tick.
type tokenBucket struct {
	capacity   int64
	tokens     int64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(capacity int64, refillRate float64) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity, refillRate: refillRate, lastRefill: time.Now()}
}

func (tb *tokenBucket) take(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

func (tb *tokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	add := int64(elapsed.Seconds() * tb.refillRate)
	if add > 0 {
		tb.tokens += add
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

func (tb *tokenBucket) resetAt() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.refillRate <= 0 {
		return time.Now()
	}
	missing := float64(tb.capacity - tb.tokens)
	return time.Now().Add(time.Duration(missing/tb.refillRate) * time.Second)
}

// RateLimiter keys one token bucket per request key (api_key_id, or
// "ip:<addr>" for unauthenticated requests).
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	repo    ports.SecurityRepo

	defaultCapacity   int64
	defaultRefillRate float64
}

func NewRateLimiter(repo ports.SecurityRepo) *RateLimiter {
	return &RateLimiter{
		buckets:           make(map[string]*tokenBucket),
		repo:              repo,
		defaultCapacity:   60,
		defaultRefillRate: 1, // 60 requests/minute sustained, burst to 60
	}
}

func (r *RateLimiter) bucketFor(key string) *tokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = newTokenBucket(r.defaultCapacity, r.defaultRefillRate)
		r.buckets[key] = b
	}
	return b
}

// Allow consumes one token for key, returning false (with a reset-at time)
// when the bucket is exhausted.
func (r *RateLimiter) Allow(key string) (allowed bool, resetAt time.Time) {
	b := r.bucketFor(key)
	if b.take(1) {
		return true, time.Time{}
	}
	return false, b.resetAt()
}

// Snapshot persists every active bucket's approximate state, for
// cross-restart observability via ListRateLimitStates.
func (r *RateLimiter) Snapshot(ctx context.Context) error {
	r.mu.Lock()
	keys := make([]string, 0, len(r.buckets))
	for k := range r.buckets {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		b := r.bucketFor(k)
		b.mu.Lock()
		state := ports.RateLimitState{Key: k, RequestsCount: int(b.capacity - b.tokens), ResetAt: b.resetAt()}
		b.mu.Unlock()
		if err := r.repo.SaveRateLimitState(ctx, state); err != nil {
			return err
		}
	}
	return nil
}
