package acme

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenewalDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, RenewalDue(now.Add(10*24*time.Hour), now))
	assert.False(t, RenewalDue(now.Add(45*24*time.Hour), now))
	assert.True(t, RenewalDue(now.Add(-time.Hour), now))
}

func TestClampPropagationWait(t *testing.T) {
	assert.Equal(t, 15*time.Second, ClampPropagationWait(0))
	assert.Equal(t, 15*time.Second, ClampPropagationWait(-5*time.Second))
	assert.Equal(t, 2*time.Second, ClampPropagationWait(time.Second))
	assert.Equal(t, 5*time.Minute, ClampPropagationWait(time.Hour))
	assert.Equal(t, 30*time.Second, ClampPropagationWait(30*time.Second))
}
