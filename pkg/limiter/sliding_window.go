package limiter

import (
	"sync"
	"time"
)

// SlidingWindowCounter counts timestamped events per key within a trailing
// time window. Events older than the window are evicted lazily on every
// check, so the retained timestamps always fall inside [now-window, now].
type SlidingWindowCounter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time

	// now is replaceable in tests to drive the window without sleeping.
	now func() time.Time
}

// NewSlidingWindowCounter creates a counter that admits at most limit
// events per key within the trailing window.
func NewSlidingWindowCounter(limit int, window time.Duration) *SlidingWindowCounter {
	return &SlidingWindowCounter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// SetClock replaces the counter's time source. Tests use it to drive the
// window without sleeping.
func (c *SlidingWindowCounter) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Allow records an event for key if the key has seen fewer than limit
// events inside the window, evicting expired timestamps first. It returns
// whether the event was admitted.
func (c *SlidingWindowCounter) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	live := c.evictLocked(key, now)

	if len(live) >= c.limit {
		c.events[key] = live
		return false
	}

	c.events[key] = append(live, now)
	return true
}

// Len reports the number of live events currently retained for key.
func (c *SlidingWindowCounter) Len(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.evictLocked(key, c.now())
	if len(live) == 0 {
		delete(c.events, key)
		return 0
	}
	c.events[key] = live
	return len(live)
}

// Oldest returns the oldest live timestamp for key. The second return is
// false when the key has no live events.
func (c *SlidingWindowCounter) Oldest(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.evictLocked(key, c.now())
	if len(live) == 0 {
		delete(c.events, key)
		return time.Time{}, false
	}
	c.events[key] = live
	return live[0], true
}

// Limit reports the configured per-key event limit.
func (c *SlidingWindowCounter) Limit() int {
	return c.limit
}

// Window reports the configured trailing window.
func (c *SlidingWindowCounter) Window() time.Duration {
	return c.window
}

// Sweep drops keys whose events have all expired. Janitors call this
// periodically so idle keys do not accumulate.
func (c *SlidingWindowCounter) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key := range c.events {
		if live := c.evictLocked(key, now); len(live) == 0 {
			delete(c.events, key)
			removed++
		} else {
			c.events[key] = live
		}
	}
	return removed
}

// evictLocked returns the live timestamps for key. Caller holds c.mu.
func (c *SlidingWindowCounter) evictLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-c.window)
	stamps := c.events[key]

	// Timestamps are appended in order, so find the first live one.
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}
