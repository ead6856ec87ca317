//go:build linux

package clocks

import (
	"log/slog"

	"golang.org/x/sys/unix"

	"example.com/sensor-timesync/base/logbase"
	"example.com/sensor-timesync/base/timebase"
)

type MonotonicClock struct {
	log     *slog.Logger
	clockID int32
}

var _ timebase.MasterClock = (*MonotonicClock)(nil)

// NewMonotonicClock returns a master clock backed by CLOCK_MONOTONIC, or by
// CLOCK_MONOTONIC_RAW if raw is set. The raw clock is not subject to NTP
// frequency slewing.
func NewMonotonicClock(log *slog.Logger, raw bool) *MonotonicClock {
	c := &MonotonicClock{log: log, clockID: unix.CLOCK_MONOTONIC}
	if raw {
		c.clockID = unix.CLOCK_MONOTONIC_RAW
	}
	return c
}

func (c *MonotonicClock) Now() timebase.Instant {
	var ts unix.Timespec
	err := unix.ClockGettime(c.clockID, &ts)
	if err != nil {
		logbase.Fatal(c.log, "ClockGettime failed", slog.Int("clock", int(c.clockID)), slog.Any("error", err))
	}
	return timebase.Instant(ts.Nano())
}
