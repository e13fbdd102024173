package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucket_ExhaustsAndRecovers(t *testing.T) {
	tb := newTokenBucket(3, 1000) // fast refill so the test doesn't sleep
	assert.True(t, tb.take(1))
	assert.True(t, tb.take(1))
	assert.True(t, tb.take(1))
	assert.False(t, tb.take(1))
}

func TestRateLimiter_AllowPerKey(t *testing.T) {
	repo := newMemSecurityRepo()
	rl := NewRateLimiter(repo)
	rl.defaultCapacity = 2
	rl.defaultRefillRate = 0

	allowed, _ := rl.Allow("key-a")
	assert.True(t, allowed)
	allowed, _ = rl.Allow("key-a")
	assert.True(t, allowed)
	allowed, resetAt := rl.Allow("key-a")
	assert.False(t, allowed)
	assert.False(t, resetAt.IsZero())

	// a different key has its own bucket
	allowed, _ = rl.Allow("key-b")
	assert.True(t, allowed)
}
