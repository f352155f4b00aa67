package fusion

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// SignalConditioner clamps each axis to ±maxAccel and low-pass filters it
// with an exponential moving average:
//
//	filtered = α·filtered + (1-α)·clamped
//
// The filter memory starts at zero and carries across samples until Reset.
type SignalConditioner struct {
	maxAccel float64
	alpha    float64
	filtered [3]float64
}

// NewSignalConditioner creates a conditioner
func NewSignalConditioner(maxAccel, alpha float64) *SignalConditioner {
	return &SignalConditioner{maxAccel: maxAccel, alpha: alpha}
}

// Condition clamps and filters one sample and returns the filtered vector
// with the input timestamp.
func (c *SignalConditioner) Condition(s Sample3) Sample3 {
	in := s.axes()
	for i := range in {
		clamped := math.Max(-c.maxAccel, math.Min(c.maxAccel, in[i]))
		c.filtered[i] = c.alpha*c.filtered[i] + (1-c.alpha)*clamped
	}
	return Sample3{X: c.filtered[0], Y: c.filtered[1], Z: c.filtered[2], Timestamp: s.Timestamp}
}

// Magnitude returns the Euclidean norm of the current filtered vector
func (c *SignalConditioner) Magnitude() float64 {
	return floats.Norm(c.filtered[:], 2)
}

// Filtered returns the current filter memory
func (c *SignalConditioner) Filtered() [3]float64 {
	return c.filtered
}

// Reset zeroes the filter memory
func (c *SignalConditioner) Reset() {
	c.filtered = [3]float64{}
}
