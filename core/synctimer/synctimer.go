// Package synctimer provides the experiment-wide time origin on top of a
// master clock.
package synctimer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"example.com/sensor-timesync/base/timebase"
)

var ErrTimerStarted = errors.New("sync timer already started")

// SyncTimer converts master clock readings into time elapsed since the start
// of an acquisition run. The origin is set exactly once.
type SyncTimer struct {
	log       *slog.Logger
	clk       timebase.MasterClock
	startTime atomic.Int64
	started   atomic.Bool
}

func New(log *slog.Logger, clk timebase.MasterClock) *SyncTimer {
	if clk == nil {
		panic("master clock must not be nil")
	}
	return &SyncTimer{log: log, clk: clk}
}

func (t *SyncTimer) Start() error {
	return t.StartAt(t.clk.Now())
}

func (t *SyncTimer) StartAt(startTime timebase.Instant) error {
	if !t.started.CompareAndSwap(false, true) {
		t.log.LogAttrs(context.Background(), slog.LevelError,
			"master sync timer restarted after it was already running")
		return ErrTimerStarted
	}
	t.startTime.Store(int64(startTime))
	return nil
}

func (t *SyncTimer) Started() bool {
	return t.started.Load()
}

func (t *SyncTimer) Clock() timebase.MasterClock {
	return t.clk
}

func (t *SyncTimer) StartTime() timebase.Instant {
	return timebase.Instant(t.startTime.Load())
}

func (t *SyncTimer) CurrentTimePoint() timebase.Instant {
	return t.clk.Now()
}

// Elapsed converts a master clock reading into time since start.
func (t *SyncTimer) Elapsed(tp timebase.Instant) time.Duration {
	return tp.Sub(t.StartTime())
}

func (t *SyncTimer) TimeSinceStart() time.Duration {
	return t.Elapsed(t.clk.Now())
}

func (t *SyncTimer) TimeSinceStartMsec() int64 {
	return t.TimeSinceStart().Milliseconds()
}

func (t *SyncTimer) TimeSinceStartUsec() int64 {
	return t.TimeSinceStart().Microseconds()
}

func (t *SyncTimer) TimeSinceStartNsec() int64 {
	return t.TimeSinceStart().Nanoseconds()
}

// FuncExecTimestamp runs f and returns the elapsed time at the midpoint of
// its execution. This approximates the instant at which f acquired a value
// better than a reading taken after f returned, and evens out moderate
// context switches.
func (t *SyncTimer) FuncExecTimestamp(f func()) time.Duration {
	return FuncExecTimestamp(t.clk, t.StartTime(), f)
}

// FuncExecTimestampMsec is FuncExecTimestamp rounded to milliseconds.
func (t *SyncTimer) FuncExecTimestampMsec(f func()) time.Duration {
	return t.FuncExecTimestamp(f).Round(time.Millisecond)
}

func FuncExecTimestamp(clk timebase.MasterClock, origin timebase.Instant, f func()) time.Duration {
	t0 := clk.Now().Sub(origin)
	f()
	t1 := clk.Now().Sub(origin)
	return t0 + (t1-t0)/2
}
