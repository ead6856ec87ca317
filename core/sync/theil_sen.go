package sync

import (
	"errors"
	"slices"

	"example.com/sensor-timesync/core/tsyncfile"
)

// maxTheilSenPoints bounds the quadratic number of pairwise slopes.
const maxTheilSenPoints = 1000

type point struct {
	x float64
	y float64
}

func median(data []float64) float64 {
	n := len(data)
	if n == 0 {
		panic("invalid argument: array is empty, median undefined")
	}
	slices.Sort(data)
	if n%2 == 0 {
		return (data[n/2-1] + data[n/2]) / 2
	}
	return data[n/2]
}

func slope(pts []point) float64 {
	if len(pts) == 1 {
		return pts[0].y / pts[0].x
	}
	var slopes []float64
	for i, a := range pts {
		for _, b := range pts[i+1:] {
			// Like in the original paper by Sen (1968), ignore pairs with the same x coordinate
			if a.x != b.x {
				slopes = append(slopes, (a.y-b.y)/(a.x-b.x))
			}
		}
	}
	if len(slopes) == 0 {
		panic("invalid inputs: all inputs have the same x coordinate")
	}
	return median(slopes)
}

func intercept(slope float64, pts []point) float64 {
	ys := make([]float64, len(pts))
	for i, p := range pts {
		ys[i] = p.y - slope*p.x
	}
	return median(ys)
}

// DriftEstimate describes the offset between a device clock and the master
// clock as a linear function of device time.
type DriftEstimate struct {
	// DriftPPM is the change of offset per device time, in parts per million.
	DriftPPM float64
	// OffsetUsec is the offset at device time 0, in microseconds.
	OffsetUsec float64
	Points     int
}

// EstimateDrift fits a Theil-Sen line through the offsets (master time minus
// device time) of the given time pairs, both in microseconds. Long series are
// subsampled evenly.
func EstimateDrift(times []tsyncfile.TimePair) (DriftEstimate, error) {
	if len(times) < 2 {
		return DriftEstimate{}, errors.New("at least two time pairs are required")
	}
	step := 1
	if len(times) > maxTheilSenPoints {
		step = (len(times) + maxTheilSenPoints - 1) / maxTheilSenPoints
	}
	var pts []point
	distinct := false
	for i := 0; i < len(times); i += step {
		tp := times[i]
		// x in seconds, y in microseconds: the slope is in ppm
		p := point{x: float64(tp.A) / 1e6, y: float64(tp.B - tp.A)}
		if len(pts) != 0 && p.x != pts[0].x {
			distinct = true
		}
		pts = append(pts, p)
	}
	if !distinct {
		return DriftEstimate{}, errors.New("all time pairs have the same device time")
	}
	m := slope(pts)
	return DriftEstimate{
		DriftPPM:   m,
		OffsetUsec: intercept(m, pts),
		Points:     len(pts),
	}, nil
}
