package chain

import (
	"sync"
	"time"
)

// Clock supplies transaction timestamps in unix seconds.
type Clock interface {
	Now() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// ManualClock is a settable clock for tests and replay tooling.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

// NewManualClock returns a ManualClock starting at now.
func NewManualClock(now uint64) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now. Moving it backwards is allowed; the host clamps.
func (c *ManualClock) Set(now uint64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d uint64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
