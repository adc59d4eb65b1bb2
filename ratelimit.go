package realtime

import (
	"sync"
	"time"
)

type RateLimiterSettings struct {
	Window   time.Duration
	Capacity int
}

func DefaultRateLimiterSettings() *RateLimiterSettings {
	return &RateLimiterSettings{
		Window:   60 * time.Second,
		Capacity: 60,
	}
}

// RateLimiter guards the inbound message path with a sliding window
// per user. A rejection is reported back to the offending session as an
// error frame, never a silent drop, so the client can back off.
type RateLimiter struct {
	settings *RateLimiterSettings

	mutex   sync.Mutex
	windows map[Id][]time.Time
}

func NewRateLimiterWithDefaults() *RateLimiter {
	return NewRateLimiter(DefaultRateLimiterSettings())
}

func NewRateLimiter(settings *RateLimiterSettings) *RateLimiter {
	return &RateLimiter{
		settings: settings,
		windows:  map[Id][]time.Time{},
	}
}

func (self *RateLimiter) Allow(userId Id) bool {
	return self.allowAt(userId, time.Now())
}

func (self *RateLimiter) allowAt(userId Id, now time.Time) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	cutoff := now.Add(-self.settings.Window)
	window := self.windows[userId]

	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i += 1
	}
	window = window[i:]

	if self.settings.Capacity <= len(window) {
		self.windows[userId] = window
		return false
	}

	self.windows[userId] = append(window, now)
	return true
}

// RemoveUser drops the user's window, e.g. when their last session closes.
func (self *RateLimiter) RemoveUser(userId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.windows, userId)
}
