package timemath

import (
	"math"
	"time"
)

func Duration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}

func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

func Inv(d time.Duration) time.Duration {
	if d == math.MinInt64 {
		panic("invalid argument: d must not be math.MinInt64")
	}
	return -d
}

// DurationMsec converts fractional milliseconds, rounding to the nearest nanosecond.
func DurationMsec(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

// DurationUsec converts fractional microseconds, rounding to the nearest nanosecond.
func DurationUsec(us float64) time.Duration {
	return time.Duration(math.Round(us * float64(time.Microsecond)))
}

func Msec(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func Usec(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

// RoundUsec returns d in whole microseconds, rounding half away from zero.
func RoundUsec(d time.Duration) int64 {
	return int64(math.Round(Usec(d)))
}
