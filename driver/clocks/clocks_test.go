package clocks_test

import (
	"log/slog"
	"testing"
	"time"

	"example.com/sensor-timesync/base/timebase"
	"example.com/sensor-timesync/driver/clocks"
)

func TestMonotonicClockNeverDecreases(t *testing.T) {
	for _, raw := range []bool{false, true} {
		c := clocks.NewMonotonicClock(slog.New(slog.DiscardHandler), raw)
		prev := c.Now()
		for range 10_000 {
			now := c.Now()
			if now < prev {
				t.Fatalf("clock went backwards: %d < %d (raw=%t)", now, prev, raw)
			}
			prev = now
		}
	}
}

func TestMonotonicClockAdvances(t *testing.T) {
	c := clocks.NewMonotonicClock(slog.New(slog.DiscardHandler), false)
	t0 := c.Now()
	time.Sleep(2 * time.Millisecond)
	if d := c.Now().Sub(t0); d < time.Millisecond {
		t.Errorf("clock advanced by %v, want at least 1ms", d)
	}
}

func TestManualClock(t *testing.T) {
	c := clocks.NewManualClock(timebase.Instant(1000))
	if c.Now() != 1000 {
		t.Fatalf("Now() = %d, want 1000", c.Now())
	}
	c.Advance(time.Microsecond)
	if c.Now() != 2000 {
		t.Fatalf("Now() = %d, want 2000", c.Now())
	}
	c.Set(5000)
	if c.Now() != 5000 {
		t.Fatalf("Now() = %d, want 5000", c.Now())
	}
}

func TestManualClockRejectsBackwardMoves(t *testing.T) {
	c := clocks.NewManualClock(timebase.Instant(1000))
	defer func() {
		if recover() == nil {
			t.Error("Set to an earlier instant did not panic")
		}
	}()
	c.Set(999)
}
