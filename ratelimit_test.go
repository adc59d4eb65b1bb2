package realtime

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	limiter := NewRateLimiter(&RateLimiterSettings{
		Window:   1 * time.Second,
		Capacity: 3,
	})

	userId := NewId()
	start := time.Now()

	assert.Equal(t, true, limiter.allowAt(userId, start))
	assert.Equal(t, true, limiter.allowAt(userId, start.Add(100*time.Millisecond)))
	assert.Equal(t, true, limiter.allowAt(userId, start.Add(200*time.Millisecond)))
	assert.Equal(t, false, limiter.allowAt(userId, start.Add(300*time.Millisecond)))
	assert.Equal(t, false, limiter.allowAt(userId, start.Add(900*time.Millisecond)))

	// the window slides: the first entry ages out
	assert.Equal(t, true, limiter.allowAt(userId, start.Add(1100*time.Millisecond)))
	assert.Equal(t, false, limiter.allowAt(userId, start.Add(1150*time.Millisecond)))
}

func TestRateLimiterPerUser(t *testing.T) {
	limiter := NewRateLimiter(&RateLimiterSettings{
		Window:   1 * time.Second,
		Capacity: 1,
	})

	userA := NewId()
	userB := NewId()
	now := time.Now()

	assert.Equal(t, true, limiter.allowAt(userA, now))
	assert.Equal(t, false, limiter.allowAt(userA, now))

	// one runaway user does not starve another
	assert.Equal(t, true, limiter.allowAt(userB, now))
}

func TestRateLimiterRemoveUser(t *testing.T) {
	limiter := NewRateLimiter(&RateLimiterSettings{
		Window:   1 * time.Second,
		Capacity: 1,
	})

	userId := NewId()
	now := time.Now()

	assert.Equal(t, true, limiter.allowAt(userId, now))
	assert.Equal(t, false, limiter.allowAt(userId, now))

	limiter.RemoveUser(userId)
	assert.Equal(t, true, limiter.allowAt(userId, now))
}
