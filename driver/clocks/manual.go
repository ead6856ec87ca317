package clocks

import (
	"sync/atomic"
	"time"

	"example.com/sensor-timesync/base/timebase"
)

// ManualClock is a master clock that only moves when told to. It is used to
// drive simulations and tests deterministically.
type ManualClock struct {
	now atomic.Int64
}

var _ timebase.MasterClock = (*ManualClock)(nil)

func NewManualClock(start timebase.Instant) *ManualClock {
	c := &ManualClock{}
	c.now.Store(int64(start))
	return c
}

func (c *ManualClock) Now() timebase.Instant {
	return timebase.Instant(c.now.Load())
}

func (c *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		panic("manual clock must not move backwards")
	}
	c.now.Add(int64(d))
}

func (c *ManualClock) Set(t timebase.Instant) {
	for {
		old := c.now.Load()
		if int64(t) < old {
			panic("manual clock must not move backwards")
		}
		if c.now.CompareAndSwap(old, int64(t)) {
			return
		}
	}
}
