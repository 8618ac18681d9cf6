// Package clock is the unified time source for the scoring pipeline.
// Every timestamp that ends up in an event hash or a validation report
// comes from here; components never call time.Now directly on the hot
// path. Replay and import paths carry explicit timestamps and bypass
// the clock.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock provides wall time and a monotonic non-decreasing millisecond
// counter. NowMS never goes backwards even if the wall clock does.
type Clock interface {
	Now() time.Time
	NowMS() int64
}

// SystemClock is the production Clock backed by the OS clock.
type SystemClock struct {
	lastMS atomic.Int64
}

// NewSystemClock returns a monotonic system clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current wall time in UTC.
func (c *SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// NowMS returns current unix milliseconds, held at the previous value
// if the wall clock stepped backwards.
func (c *SystemClock) NowMS() int64 {
	now := time.Now().UnixMilli()
	for {
		last := c.lastMS.Load()
		if now <= last {
			return last
		}
		if c.lastMS.CompareAndSwap(last, now) {
			return now
		}
	}
}

// ManualClock is a controllable Clock for tests and replay tooling.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewManualClock returns a ManualClock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{t: start.UTC()}
}

// Now returns the frozen time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// NowMS returns the frozen time in unix milliseconds.
func (c *ManualClock) NowMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.UnixMilli()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Set jumps the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t.UTC()
}
