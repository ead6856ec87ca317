package sync

import (
	"fmt"
	"strings"
)

// Strategy is a set of time synchronization strategies a synchronizer may
// use. Any combination is valid.
type Strategy uint8

const (
	ShiftTimestampsFwd Strategy = 1 << iota
	ShiftTimestampsBwd
	AdjustClock
	WriteTSyncFile

	ShiftTimestamps = ShiftTimestampsFwd | ShiftTimestampsBwd

	DefaultStrategies = ShiftTimestamps
)

func (s Strategy) Has(flags Strategy) bool {
	return s&flags == flags
}

// With returns s with flags set or cleared.
func (s Strategy) With(flags Strategy, on bool) Strategy {
	if on {
		return s | flags
	}
	return s &^ flags
}

func (s Strategy) String() string {
	var parts []string
	if s.Has(ShiftTimestamps) {
		parts = append(parts, "shift timestamps")
	} else {
		if s.Has(ShiftTimestampsFwd) {
			parts = append(parts, "shift timestamps (forward)")
		}
		if s.Has(ShiftTimestampsBwd) {
			parts = append(parts, "shift timestamps (backward)")
		}
	}
	if s.Has(AdjustClock) {
		parts = append(parts, "align secondary clock")
	}
	if s.Has(WriteTSyncFile) {
		parts = append(parts, "write time-sync file")
	}
	return strings.Join(parts, " and ")
}

// ParseStrategies parses strategy names as used in configuration files:
// "shift", "shift-fwd", "shift-bwd", "adjust-clock", "write-tsync".
func ParseStrategies(names []string) (Strategy, error) {
	var s Strategy
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "shift":
			s |= ShiftTimestamps
		case "shift-fwd":
			s |= ShiftTimestampsFwd
		case "shift-bwd":
			s |= ShiftTimestampsBwd
		case "adjust-clock":
			s |= AdjustClock
		case "write-tsync":
			s |= WriteTSyncFile
		default:
			return 0, fmt.Errorf("unknown time sync strategy: %q", name)
		}
	}
	return s, nil
}
