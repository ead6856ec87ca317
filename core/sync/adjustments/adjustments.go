// Package adjustments holds the step arithmetic used to correct device
// timestamps gradually.
package adjustments

import "math"

const (
	// The index shift applied per check is the required shift divided by
	// frequency/IndexShiftFreqDivisor + 1, at most MaxIndexShiftDivisor.
	IndexShiftFreqDivisor = 20000
	MaxIndexShiftDivisor  = 10

	// SmoothingWeight is the weight of the previous value in Smooth.
	SmoothingWeight = 15

	// A sample further than OutlierSDFactor standard deviations from the
	// history mean is an outlier.
	OutlierSDFactor = 1.5
)

// IndexShiftStep returns the number of sample indices to shift a counter
// running at frequencyHz by in a single check to work off offsetUsec.
func IndexShiftStep(offsetUsec, frequencyHz float64) int64 {
	divisor := min(frequencyHz/IndexShiftFreqDivisor+1, MaxIndexShiftDivisor)
	return int64(math.Floor(offsetUsec * frequencyHz / 1e6 / divisor))
}

// Smooth moves prev toward x by 1/(SmoothingWeight+1).
func Smooth(prev, x float64) float64 {
	return (SmoothingWeight*prev + x) / (SmoothingWeight + 1)
}

func IsOutlier(mean, sd, x float64) bool {
	return math.Abs(mean-x) > OutlierSDFactor*sd
}

// AddRamp adds a linear ramp from 0 to total across dst, so that a shift is
// applied smoothly over a block instead of as a single step.
func AddRamp(dst []int64, total int64) {
	switch n := len(dst); n {
	case 0:
		return
	case 1:
		dst[0] += total
	default:
		for i := range dst {
			dst[i] += int64(i) * total / int64(n-1)
		}
	}
}
