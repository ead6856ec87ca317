package adjustments

import (
	"slices"
	"testing"
)

func TestIndexShiftStep(t *testing.T) {
	var tests = []struct {
		offsetUsec, frequencyHz float64
		want                    int64
	}{
		// 30 kHz: divisor 2.5
		{offsetUsec: 1000, frequencyHz: 30000, want: 12},
		{offsetUsec: -1000, frequencyHz: 30000, want: -12},
		// 1 MHz: divisor capped at 10
		{offsetUsec: 1000, frequencyHz: 1e6, want: 100},
		// 1 kHz: divisor 1.05
		{offsetUsec: 2000, frequencyHz: 1000, want: 1},
		{offsetUsec: 0, frequencyHz: 1000, want: 0},
	}
	for _, tc := range tests {
		got := IndexShiftStep(tc.offsetUsec, tc.frequencyHz)
		if got != tc.want {
			t.Errorf("IndexShiftStep(%v, %v) = %d, want %d",
				tc.offsetUsec, tc.frequencyHz, got, tc.want)
		}
	}
}

func TestSmooth(t *testing.T) {
	if got := Smooth(0, 16); got != 1 {
		t.Errorf("Smooth(0, 16) = %v, want 1", got)
	}
	x := 0.0
	for range 200 {
		x = Smooth(x, 100)
	}
	if x < 99.9 || x > 100 {
		t.Errorf("Smooth did not converge: %v", x)
	}
}

func TestIsOutlier(t *testing.T) {
	if IsOutlier(10, 2, 12.9) {
		t.Error("12.9 classified as outlier of 10 ± 2")
	}
	if !IsOutlier(10, 2, 13.1) || !IsOutlier(10, 2, 6.9) {
		t.Error("outlier not detected")
	}
}

func TestAddRamp(t *testing.T) {
	b := []int64{100, 101, 102, 103, 104}
	AddRamp(b, 8)
	if want := []int64{100, 103, 106, 109, 112}; !slices.Equal(b, want) {
		t.Errorf("AddRamp = %v, want %v", b, want)
	}
	b = []int64{7}
	AddRamp(b, -3)
	if b[0] != 4 {
		t.Errorf("AddRamp single = %v, want 4", b[0])
	}
	AddRamp(nil, 1)
}
