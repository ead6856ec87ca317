package sync

import (
	"math"
	"testing"

	"example.com/sensor-timesync/core/tsyncfile"
)

func TestTheilSenIdentityLine(t *testing.T) {
	identityLinePts := []point{{x: -1.0, y: -1.0}, {x: 3.5, y: 3.5}, {x: 11.2, y: 11.2}}

	slope := slope(identityLinePts)
	if slope != 1.0 {
		t.Errorf("slope of y = x line: got %f, want 1.0", slope)
	}

	intercept := intercept(slope, identityLinePts)
	if intercept != 0.0 {
		t.Errorf("intercept of y = x line: got %f, want 0.0", intercept)
	}
}

func TestEstimateDrift(t *testing.T) {
	// device runs 50 ppm slow against the master clock, offset 1.5 ms,
	// with one corrupt record
	var times []tsyncfile.TimePair
	for i := range int64(5000) {
		a := i * 20_000
		b := a + 1500 + a*50/1_000_000
		if i == 1235 {
			b += 1_000_000
		}
		times = append(times, tsyncfile.TimePair{A: a, B: b})
	}
	est, err := EstimateDrift(times)
	if err != nil {
		t.Fatal(err)
	}
	if est.Points != 1000 {
		t.Errorf("Points = %d, want 1000", est.Points)
	}
	if math.Abs(est.DriftPPM-50) > 0.1 {
		t.Errorf("DriftPPM = %v, want 50", est.DriftPPM)
	}
	if math.Abs(est.OffsetUsec-1500) > 2 {
		t.Errorf("OffsetUsec = %v, want 1500", est.OffsetUsec)
	}
}

func TestEstimateDriftInvalid(t *testing.T) {
	if _, err := EstimateDrift([]tsyncfile.TimePair{{A: 1, B: 1}}); err == nil {
		t.Error("EstimateDrift with one point succeeded")
	}
	if _, err := EstimateDrift([]tsyncfile.TimePair{{A: 1, B: 1}, {A: 1, B: 5}}); err == nil {
		t.Error("EstimateDrift with identical device times succeeded")
	}
}
