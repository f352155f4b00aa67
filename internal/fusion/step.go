package fusion

import (
	"fmt"
	"time"
)

// StepDetector counts steps and accumulates walked distance. Every method
// that can register steps returns the number of new steps so the caller can
// advance position once per step.
type StepDetector interface {
	Name() string

	// Magnitude feeds one filtered acceleration magnitude (m/s²)
	Magnitude(m float64, at time.Time) int

	// StepEvent feeds one discrete hardware step detection
	StepEvent(at time.Time) int

	// HardwareCount feeds a cumulative hardware step counter reading
	HardwareCount(n int64, at time.Time) (int, error)

	Steps() int
	Distance() float64
	Reset()
}

// NewStepDetector returns the detector selected by p.StepStrategy
func NewStepDetector(p Params) (StepDetector, error) {
	switch p.StepStrategy {
	case StepStrategyPeak:
		return NewPeakStepDetector(p.PeakThreshold, p.MinStepInterval, p.StepLength), nil
	case StepStrategyHardware:
		return NewHardwareStepCounter(p.StepLength), nil
	default:
		return nil, fmt.Errorf("%w: unknown step strategy %q", ErrInvalidParams, p.StepStrategy)
	}
}

// PeakStepDetector registers a step on the rising edge of the filtered
// magnitude above a threshold, with a refractory interval between steps.
type PeakStepDetector struct {
	threshold   float64
	minInterval time.Duration
	stepLength  float64

	steps    int
	distance float64
	inStep   bool
	stepped  bool
	lastStep time.Time
}

// NewPeakStepDetector creates a peak detector
func NewPeakStepDetector(threshold float64, minInterval time.Duration, stepLength float64) *PeakStepDetector {
	return &PeakStepDetector{
		threshold:   threshold,
		minInterval: minInterval,
		stepLength:  stepLength,
	}
}

func (p *PeakStepDetector) Name() string { return StepStrategyPeak }

// Magnitude registers at most one step per excursion above the threshold
func (p *PeakStepDetector) Magnitude(m float64, at time.Time) int {
	if m <= p.threshold {
		p.inStep = false
		return 0
	}
	if p.inStep {
		return 0
	}
	if p.stepped && at.Sub(p.lastStep) <= p.minInterval {
		return 0
	}

	p.steps++
	p.distance += p.stepLength
	p.inStep = true
	p.stepped = true
	p.lastStep = at
	return 1
}

// StepEvent is ignored; the peak strategy counts from magnitude only
func (p *PeakStepDetector) StepEvent(time.Time) int { return 0 }

// HardwareCount is ignored; the peak strategy counts from magnitude only
func (p *PeakStepDetector) HardwareCount(int64, time.Time) (int, error) { return 0, nil }

func (p *PeakStepDetector) Steps() int        { return p.steps }
func (p *PeakStepDetector) Distance() float64 { return p.distance }

func (p *PeakStepDetector) Reset() {
	p.steps = 0
	p.distance = 0
	p.inStep = false
	p.stepped = false
	p.lastStep = time.Time{}
}

// HardwareStepCounter trusts the device's own step sensing. Discrete step
// events add one step each. Cumulative counter readings are taken relative
// to the first reading seen, which becomes the baseline.
//
// A host should forward either step events or counter readings, not both,
// or the two will be counted twice.
type HardwareStepCounter struct {
	stepLength float64

	steps       int
	distance    float64
	hasBaseline bool
	baseline    int64
	last        int64
}

// NewHardwareStepCounter creates a hardware-backed counter
func NewHardwareStepCounter(stepLength float64) *HardwareStepCounter {
	return &HardwareStepCounter{stepLength: stepLength}
}

func (h *HardwareStepCounter) Name() string { return StepStrategyHardware }

// Magnitude is ignored; the hardware strategy does not threshold
func (h *HardwareStepCounter) Magnitude(float64, time.Time) int { return 0 }

// StepEvent counts one step
func (h *HardwareStepCounter) StepEvent(time.Time) int {
	h.add(1)
	return 1
}

// HardwareCount applies the delta since the previous reading. A reading
// below the previous one would make the count decrease and is rejected.
func (h *HardwareStepCounter) HardwareCount(n int64, _ time.Time) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative step counter %d", ErrProcessing, n)
	}
	if !h.hasBaseline {
		h.hasBaseline = true
		h.baseline = n
		h.last = n
		return 0, nil
	}
	if n < h.last {
		return 0, fmt.Errorf("%w: step counter went backwards (%d < %d)", ErrProcessing, n, h.last)
	}

	delta := int(n - h.last)
	h.last = n
	h.add(delta)
	return delta, nil
}

func (h *HardwareStepCounter) add(n int) {
	h.steps += n
	h.distance = float64(h.steps) * h.stepLength
}

func (h *HardwareStepCounter) Steps() int        { return h.steps }
func (h *HardwareStepCounter) Distance() float64 { return h.distance }

// Baseline returns the first counter reading, if one has been seen
func (h *HardwareStepCounter) Baseline() (int64, bool) {
	return h.baseline, h.hasBaseline
}

func (h *HardwareStepCounter) Reset() {
	h.steps = 0
	h.distance = 0
	h.hasBaseline = false
	h.baseline = 0
	h.last = 0
}
