// Package measurements keeps short histories of clock offset measurements.
package measurements

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// OffsetHistory is a fixed-size circular buffer of offset samples. Once full,
// each push overwrites the oldest sample.
type OffsetHistory struct {
	buf     []float64
	next    int
	n       int
	scratch []float64
}

func NewOffsetHistory(capacity int) *OffsetHistory {
	if capacity <= 0 {
		panic("invalid argument: capacity must be positive")
	}
	return &OffsetHistory{
		buf:     make([]float64, capacity),
		scratch: make([]float64, 0, capacity),
	}
}

func (h *OffsetHistory) Push(x float64) {
	h.buf[h.next] = x
	h.next = (h.next + 1) % len(h.buf)
	if h.n < len(h.buf) {
		h.n++
	}
}

func (h *OffsetHistory) Len() int { return h.n }

func (h *OffsetHistory) Cap() int { return len(h.buf) }

func (h *OffsetHistory) Full() bool { return h.n == len(h.buf) }

func (h *OffsetHistory) values() []float64 {
	return h.buf[:h.n]
}

// MeanStdDev returns the mean and the sample standard deviation of the
// history. The standard deviation of fewer than two samples is 0.
func (h *OffsetHistory) MeanStdDev() (mean, sd float64) {
	switch h.n {
	case 0:
		return 0, 0
	case 1:
		return h.buf[0], 0
	}
	return stat.MeanStdDev(h.values(), nil)
}

// Median returns the median of the history, averaging the two middle values
// for an even number of samples. The history itself is left untouched.
func (h *OffsetHistory) Median() float64 {
	if h.n == 0 {
		return 0
	}
	h.scratch = append(h.scratch[:0], h.values()...)
	slices.Sort(h.scratch)
	m := h.n / 2
	if h.n%2 == 0 {
		return (h.scratch[m-1] + h.scratch[m]) / 2
	}
	return h.scratch[m]
}

func (h *OffsetHistory) Reset() {
	h.next = 0
	h.n = 0
}
