package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Second)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, rl.Allow(t0))
	assert.True(t, rl.Allow(t0.Add(time.Second)))
	assert.False(t, rl.Allow(t0.Add(2*time.Second)))
	assert.Equal(t, 8*time.Second, rl.RetryAfter(t0.Add(2*time.Second)))

	// The first event leaves the window at t0+10s.
	assert.True(t, rl.Allow(t0.Add(10*time.Second)))
	assert.False(t, rl.Allow(t0.Add(10*time.Second)))
	assert.True(t, rl.Allow(t0.Add(11*time.Second)))
}

func TestRateLimiter_InvalidInputsUseDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, rateLimitEvents, rl.limit)
	assert.Equal(t, rateLimitWindow, rl.window)
	assert.Zero(t, rl.RetryAfter(time.Now()))
}
