package idle

import (
	"sync"
	"time"
)

// Clock records the time of the last user action in the process. It is
// shared by every session: activity on any session keeps all of them alive.
type Clock struct {
	mu    sync.Mutex
	last  time.Time
	nowFn func() time.Time // injectable clock for testing
}

// NewClock creates a clock whose last activity is now.
func NewClock() *Clock {
	return newClockAt(time.Now)
}

func newClockAt(nowFn func() time.Time) *Clock {
	return &Clock{last: nowFn(), nowFn: nowFn}
}

// SetNowFunc replaces the time source used for testing and restarts the
// idle period at its current time.
func (c *Clock) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFn = fn
	c.last = fn()
}

// Touch records activity now. The recorded time never moves backwards.
func (c *Clock) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now := c.nowFn(); now.After(c.last) {
		c.last = now
	}
}

// LastActivity returns the time of the most recent Touch.
func (c *Clock) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// IdleFor returns how long the process has been idle at now. It is never
// negative.
func (c *Clock) IdleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := now.Sub(c.last); d > 0 {
		return d
	}
	return 0
}
