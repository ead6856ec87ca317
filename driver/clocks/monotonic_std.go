//go:build !linux

package clocks

import (
	"context"
	"log/slog"
	"time"

	"example.com/sensor-timesync/base/timebase"
)

type MonotonicClock struct {
	origin time.Time
}

var _ timebase.MasterClock = (*MonotonicClock)(nil)

func NewMonotonicClock(log *slog.Logger, raw bool) *MonotonicClock {
	if raw {
		log.LogAttrs(context.Background(), slog.LevelInfo,
			"raw monotonic clock not supported on this platform, using runtime monotonic clock")
	}
	return &MonotonicClock{origin: time.Now()}
}

func (c *MonotonicClock) Now() timebase.Instant {
	return timebase.Instant(time.Since(c.origin))
}
