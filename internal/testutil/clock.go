// Package testutil provides deterministic time, ids, and catalog
// fixtures for tests.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe deterministic wall clock for tests. Each Now()
// returns the current instant and advances by a fixed step, so repeated
// runs of the same scenario produce identical timestamps.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a clock starting at start, advancing by step per
// Now() call.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start, step: step}
}

// DefaultClock starts at a fixed epoch and ticks one second per call.
func DefaultClock() *Clock {
	return NewClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), time.Second)
}

// Now returns the current instant and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the instant the next Now() will report, without
// advancing.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
