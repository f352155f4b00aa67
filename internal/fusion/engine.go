package fusion

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-pdr/internal/room"
)

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the wall clock used for session elapsed time
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine composes the fusion stages for one session. All methods are safe
// for concurrent use; a Reset never interleaves with an in-flight sample.
type Engine struct {
	mu     sync.Mutex
	params Params
	now    func() time.Time

	conditioner *SignalConditioner
	steps       StepDetector
	heading     *HeadingEstimator
	position    PositionIntegrator
	corners     *room.Accumulator
	wifi        []room.WiFiReference

	startedAt    time.Time
	lastAccelAt  time.Time
	hasAccel     bool
	lastSnapshot Snapshot
}

// NewEngine validates p and builds the configured strategies
func NewEngine(p Params, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	steps, err := NewStepDetector(p)
	if err != nil {
		return nil, err
	}
	position, err := NewPositionIntegrator(p)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		params:      p,
		now:         time.Now,
		conditioner: NewSignalConditioner(p.MaxAccel, p.FilterAlpha),
		steps:       steps,
		heading:     NewHeadingEstimator(p.HeadingKalman),
		position:    position,
		corners:     room.NewAccumulator(p.MinCornerDistance),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.startedAt = e.now()
	e.lastSnapshot = Snapshot{
		Stage:        StageDataCollection,
		FitnessLevel: FitnessBeginner,
		Timestamp:    e.startedAt,
	}
	return e, nil
}

// Params returns the engine's parameters
func (e *Engine) Params() Params {
	return e.params
}

// StepStrategy returns the active step detector name
func (e *Engine) StepStrategy() string {
	return e.steps.Name()
}

// PositionStrategy returns the active position integrator name
func (e *Engine) PositionStrategy() string {
	return e.position.Name()
}

// IngestAcceleration runs one accelerometer sample through every stage.
// Non-finite values and samples older than the last accepted one are
// rejected with ErrProcessing and leave state untouched.
func (e *Engine) IngestAcceleration(s Sample3) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !s.finite() {
		return e.lastSnapshot, fmt.Errorf("%w: non-finite acceleration (%v, %v, %v)", ErrProcessing, s.X, s.Y, s.Z)
	}
	if e.hasAccel && s.Timestamp.Before(e.lastAccelAt) {
		return e.lastSnapshot, fmt.Errorf("%w: acceleration sample out of order (%s before %s)",
			ErrProcessing, s.Timestamp.Format(time.RFC3339Nano), e.lastAccelAt.Format(time.RFC3339Nano))
	}
	e.hasAccel = true
	e.lastAccelAt = s.Timestamp

	// PREPROCESSING
	filtered := e.conditioner.Condition(s)
	magnitude := e.conditioner.Magnitude()

	// FEATURE_EXTRACTION
	n := e.steps.Magnitude(magnitude, s.Timestamp)

	// CLASSIFICATION
	e.advance(n)
	e.position.Acceleration(filtered)
	return e.classify(s.Timestamp, magnitude), nil
}

// IngestAccelerationAxes is IngestAcceleration for a raw axis slice. Any
// length other than 3 is an ErrInvalidInput.
func (e *Engine) IngestAccelerationAxes(values []float64, at time.Time) (Snapshot, error) {
	s, err := NewSample3(values, at)
	if err != nil {
		return e.Snapshot(), err
	}
	return e.IngestAcceleration(s)
}

// IngestAzimuth feeds one compass azimuth (degrees). The snapshot carries
// the smoothed heading and stops at FEATURE_EXTRACTION.
func (e *Engine) IngestAzimuth(deg float64, at time.Time) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !isFinite(deg) {
		return e.lastSnapshot, fmt.Errorf("%w: non-finite azimuth %v", ErrProcessing, deg)
	}

	snap := e.lastSnapshot
	snap.Heading = e.heading.Update(deg)
	snap.Stage = StageFeatureExtraction
	snap.Timestamp = at
	e.lastSnapshot = snap
	return snap, nil
}

// IngestStepEvent feeds one hardware step detection
func (e *Engine) IngestStepEvent(at time.Time) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.steps.StepEvent(at)
	e.advance(n)
	return e.classify(at, e.lastSnapshot.AccelerationMagnitude), nil
}

// IngestHardwareStepCount feeds a cumulative hardware step counter reading
func (e *Engine) IngestHardwareStepCount(n int64, at time.Time) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delta, err := e.steps.HardwareCount(n, at)
	if err != nil {
		return e.lastSnapshot, err
	}
	e.advance(delta)
	return e.classify(at, e.lastSnapshot.AccelerationMagnitude), nil
}

// advance moves the position integrator once per new step
func (e *Engine) advance(n int) {
	heading := e.heading.Heading()
	for i := 0; i < n; i++ {
		e.position.Step(heading)
	}
}

// classify runs the corner and metrics stages and stores the snapshot.
// Callers hold e.mu.
func (e *Engine) classify(at time.Time, magnitude float64) Snapshot {
	pos := e.position.Position()
	e.corners.Observe(pos)

	steps := e.reportedSteps()
	distance := e.steps.Distance() * e.params.StepsMultiplier
	m := ComputeMetrics(steps, distance, e.now().Sub(e.startedAt), e.params.Metrics)

	e.lastSnapshot = Snapshot{
		Steps:                 steps,
		Distance:              distance,
		Pace:                  m.Pace,
		Calories:              m.Calories,
		FitnessLevel:          m.FitnessLevel,
		Stage:                 StageClassification,
		AccelerationMagnitude: magnitude,
		Heading:               e.heading.Heading(),
		Position:              pos,
		Timestamp:             at,
	}
	return e.lastSnapshot
}

func (e *Engine) reportedSteps() int {
	return int(math.Round(float64(e.steps.Steps()) * e.params.StepsMultiplier))
}

// Snapshot returns the most recent snapshot
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSnapshot
}

// Position returns the current position
func (e *Engine) Position() Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position.Position()
}

// Heading returns the current smoothed heading in degrees
func (e *Engine) Heading() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heading.Heading()
}

// Corners returns a copy of the accumulated corners
func (e *Engine) Corners() []Position {
	return e.corners.Corners()
}

// CornerCount returns the number of accumulated corners
func (e *Engine) CornerCount() int {
	return e.corners.Len()
}

// MarkCorner appends the current position as a corner and returns it
func (e *Engine) MarkCorner() Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.position.Position()
	e.corners.MarkCorner(pos)
	return pos
}

// AttachWiFi adds Wi-Fi references to the session layout
func (e *Engine) AttachWiFi(refs []room.WiFiReference) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wifi = append(e.wifi, refs...)
}

// ObserveWiFi places a reference for one access point relative to the
// current position and attaches it.
func (e *Engine) ObserveWiFi(ssid string, dBm int) room.WiFiReference {
	e.mu.Lock()
	defer e.mu.Unlock()

	ref := room.PlaceReference(ssid, dBm, e.position.Position())
	e.wifi = append(e.wifi, ref)
	return ref
}

// Layout returns the room layout accumulated so far
func (e *Engine) Layout() room.Layout {
	e.mu.Lock()
	defer e.mu.Unlock()

	wifi := make([]room.WiFiReference, len(e.wifi))
	copy(wifi, e.wifi)
	return room.Layout{
		Corners:        e.corners.Corners(),
		CreatedAt:      e.startedAt,
		WiFiReferences: wifi,
	}
}

// StartedAt returns when the session (or the last reset) began
func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// Reset clears all session state and restarts the session clock
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.conditioner.Reset()
	e.steps.Reset()
	e.heading.Reset()
	e.position.Reset()
	e.corners.Reset()
	e.wifi = nil
	e.hasAccel = false
	e.lastAccelAt = time.Time{}

	e.startedAt = e.now()
	e.lastSnapshot = Snapshot{
		Stage:        StageDataCollection,
		FitnessLevel: FitnessBeginner,
		Timestamp:    e.startedAt,
	}
}
