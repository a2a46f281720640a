// Package respclock provides the monotonic experiment clock that all
// response timestamps are expressed against.
package respclock

import (
	"sync"
	"time"
)

// Clock converts wall-clock readings into seconds on a single monotonic
// timebase. Reset moves the reaction-time origin without disturbing the
// timebase itself, so absolute timestamps taken before and after a reset
// remain comparable.
type Clock struct {
	mu    sync.Mutex
	now   func() time.Time
	epoch time.Time
	base  float64
}

func New() *Clock {
	return NewWithNow(time.Now)
}

// NewWithNow injects the time source. Tests use this to drive the clock
// deterministically.
func NewWithNow(now func() time.Time) *Clock {
	return &Clock{
		now:   now,
		epoch: now(),
	}
}

// Now returns seconds elapsed since the clock was created. Go's time.Time
// carries a monotonic reading, so the result is immune to wall-clock jumps.
func (c *Clock) Now() float64 {
	return c.now().Sub(c.epoch).Seconds()
}

// Reset moves the reaction-time origin to the current instant.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.base = c.now().Sub(c.epoch).Seconds()
	c.mu.Unlock()
}

// RT converts an absolute timestamp into a reaction time relative to the
// most recent Reset. Callers record the result once at event receipt;
// it is never recomputed later.
func (c *Clock) RT(t float64) float64 {
	c.mu.Lock()
	base := c.base
	c.mu.Unlock()
	return t - base
}
