package timebase

import (
	"time"
)

// Instant is a reading of a master clock: nanoseconds since an arbitrary but
// fixed origin. Readings of the same clock never decrease.
type Instant int64

func (t Instant) Sub(u Instant) time.Duration {
	return time.Duration(t - u)
}

func (t Instant) Add(d time.Duration) Instant {
	return t + Instant(d)
}

func (t Instant) Before(u Instant) bool {
	return t < u
}

// MasterClock is the single steady time source all devices are aligned to.
// Implementations must be safe for concurrent use and must not block.
type MasterClock interface {
	Now() Instant
}
