package fusion

import (
	"fmt"
	"math"
	"time"
)

// PositionIntegrator tracks 2-D position from either step events or raw
// acceleration, depending on the strategy.
type PositionIntegrator interface {
	Name() string

	// Step advances position by one step along headingDeg
	Step(headingDeg float64) Position

	// Acceleration integrates one conditioned acceleration sample
	Acceleration(s Sample3) Position

	Position() Position
	Reset()
}

// NewPositionIntegrator returns the integrator selected by p.PositionStrategy
func NewPositionIntegrator(p Params) (PositionIntegrator, error) {
	switch p.PositionStrategy {
	case PositionStrategyStep:
		return NewStepProjector(p.StepLength, p.PositionKalman), nil
	case PositionStrategyInertial:
		return NewDoubleIntegrator(p.PositionKalman, p.MovementThreshold, p.VelocityDecay, p.MaxDt), nil
	default:
		return nil, fmt.Errorf("%w: unknown position strategy %q", ErrInvalidParams, p.PositionStrategy)
	}
}

// StepProjector moves one step length along the current heading per step,
// smoothing each axis with its own Kalman instance. Heading 0° is +x and
// angles increase counter-clockwise.
type StepProjector struct {
	stepLength float64
	kx, ky     *Kalman
	pos        Position
}

// NewStepProjector creates a step-and-heading integrator
func NewStepProjector(stepLength float64, kp KalmanParams) *StepProjector {
	return &StepProjector{
		stepLength: stepLength,
		kx:         NewKalman(kp),
		ky:         NewKalman(kp),
	}
}

func (s *StepProjector) Name() string { return PositionStrategyStep }

func (s *StepProjector) Step(headingDeg float64) Position {
	rad := headingDeg * math.Pi / 180
	s.pos.X = s.kx.Update(s.pos.X + s.stepLength*math.Cos(rad))
	s.pos.Y = s.ky.Update(s.pos.Y + s.stepLength*math.Sin(rad))
	return s.pos
}

// Acceleration does not move a step projector
func (s *StepProjector) Acceleration(Sample3) Position { return s.pos }

func (s *StepProjector) Position() Position { return s.pos }

func (s *StepProjector) Reset() {
	s.kx.Reset()
	s.ky.Reset()
	s.pos = Position{}
}

// DoubleIntegrator integrates x/y acceleration twice with velocity decay
// and per-axis Kalman smoothing of the position. Below the movement
// threshold only decay is applied, which suppresses drift while standing.
type DoubleIntegrator struct {
	threshold float64
	decay     float64
	maxDt     time.Duration

	kx, ky *Kalman
	vx, vy float64
	pos    Position

	primed bool
	lastAt time.Time
}

// NewDoubleIntegrator creates an inertial integrator
func NewDoubleIntegrator(kp KalmanParams, threshold, decay float64, maxDt time.Duration) *DoubleIntegrator {
	return &DoubleIntegrator{
		threshold: threshold,
		decay:     decay,
		maxDt:     maxDt,
		kx:        NewKalman(kp),
		ky:        NewKalman(kp),
	}
}

func (d *DoubleIntegrator) Name() string { return PositionStrategyInertial }

// Step does not move an inertial integrator
func (d *DoubleIntegrator) Step(float64) Position { return d.pos }

// Acceleration integrates one sample. The first sample only seeds the clock;
// dt is the sample spacing capped at maxDt.
func (d *DoubleIntegrator) Acceleration(s Sample3) Position {
	if !d.primed {
		d.primed = true
		d.lastAt = s.Timestamp
		return d.pos
	}

	dt := s.Timestamp.Sub(d.lastAt)
	d.lastAt = s.Timestamp
	if dt < 0 {
		dt = 0
	}
	if dt > d.maxDt {
		dt = d.maxDt
	}
	sec := dt.Seconds()

	if math.Abs(s.X) > d.threshold || math.Abs(s.Y) > d.threshold {
		d.vx = d.vx*d.decay + s.X*sec
		d.vy = d.vy*d.decay + s.Y*sec
		d.pos.X = d.kx.Update(d.pos.X + d.vx*sec)
		d.pos.Y = d.ky.Update(d.pos.Y + d.vy*sec)
	} else {
		d.vx *= d.decay
		d.vy *= d.decay
	}
	return d.pos
}

func (d *DoubleIntegrator) Position() Position { return d.pos }

// Velocity returns the current velocity estimate (m/s)
func (d *DoubleIntegrator) Velocity() (vx, vy float64) {
	return d.vx, d.vy
}

func (d *DoubleIntegrator) Reset() {
	d.kx.Reset()
	d.ky.Reset()
	d.vx, d.vy = 0, 0
	d.pos = Position{}
	d.primed = false
	d.lastAt = time.Time{}
}
