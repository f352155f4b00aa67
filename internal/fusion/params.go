package fusion

import (
	"fmt"
	"time"
)

// Strategy names accepted by Params.StepStrategy
const (
	StepStrategyPeak     = "peak"
	StepStrategyHardware = "hardware"
)

// Strategy names accepted by Params.PositionStrategy
const (
	PositionStrategyStep     = "step"
	PositionStrategyInertial = "inertial"
)

// KalmanParams configures one scalar Kalman instance
type KalmanParams struct {
	MeasurementNoise float64 // R
	ProcessNoise     float64 // Q
	InitialError     float64
}

// MetricsParams holds the coefficients of the fitness metrics
type MetricsParams struct {
	PaceScale            float64
	CaloriesPerStep      float64
	CaloriesPerMeter     float64
	CaloriesPerPace      float64
	IntermediateCalories float64
	AdvancedCalories     float64
}

// Params holds every tunable of the fusion engine. Alternate hardware or
// calibration profiles are expressed as different Params values.
type Params struct {
	// Signal conditioning
	MaxAccel    float64 // m/s², per-axis clamp
	FilterAlpha float64 // EMA memory weight

	// Step detection
	StepStrategy    string
	PeakThreshold   float64 // m/s², filtered magnitude
	MinStepInterval time.Duration
	StepLength      float64 // meters

	// StepsMultiplier scales the reported step count and distance. Some
	// firmware revisions report cadence-scaled counts; keep 1.0 unless the
	// sensor is known to need calibration.
	StepsMultiplier float64

	// Heading
	HeadingKalman KalmanParams

	// Position
	PositionStrategy  string
	PositionKalman    KalmanParams
	MovementThreshold float64 // m/s², x/y gate for inertial integration
	VelocityDecay     float64
	MaxDt             time.Duration

	// Room layout
	MinCornerDistance float64

	Metrics MetricsParams
}

// DefaultKalmanParams returns R=0.1, Q=0.1 with an initial error of 1.0
func DefaultKalmanParams() KalmanParams {
	return KalmanParams{
		MeasurementNoise: 0.1,
		ProcessNoise:     0.1,
		InitialError:     1.0,
	}
}

// DefaultMetricsParams returns the stock metric coefficients
func DefaultMetricsParams() MetricsParams {
	return MetricsParams{
		PaceScale:            0.086,
		CaloriesPerStep:      0.04,
		CaloriesPerMeter:     0.05,
		CaloriesPerPace:      0.1,
		IntermediateCalories: 25,
		AdvancedCalories:     50,
	}
}

// DefaultParams returns the stock phone calibration
func DefaultParams() Params {
	return Params{
		MaxAccel:          50.0,
		FilterAlpha:       0.8,
		StepStrategy:      StepStrategyPeak,
		PeakThreshold:     12.0,
		MinStepInterval:   250 * time.Millisecond,
		StepLength:        0.75,
		StepsMultiplier:   1.0,
		HeadingKalman:     DefaultKalmanParams(),
		PositionStrategy:  PositionStrategyStep,
		PositionKalman:    DefaultKalmanParams(),
		MovementThreshold: 0.1,
		VelocityDecay:     0.95,
		MaxDt:             100 * time.Millisecond,
		MinCornerDistance: 20.0,
		Metrics:           DefaultMetricsParams(),
	}
}

func (k KalmanParams) validate(name string) error {
	if k.MeasurementNoise <= 0 {
		return fmt.Errorf("%w: %s measurement noise must be > 0, got %f", ErrInvalidParams, name, k.MeasurementNoise)
	}
	if k.ProcessNoise < 0 {
		return fmt.Errorf("%w: %s process noise must be >= 0, got %f", ErrInvalidParams, name, k.ProcessNoise)
	}
	if k.InitialError < 0 {
		return fmt.Errorf("%w: %s initial error must be >= 0, got %f", ErrInvalidParams, name, k.InitialError)
	}
	return nil
}

// Validate checks parameter ranges
func (p Params) Validate() error {
	if p.MaxAccel <= 0 {
		return fmt.Errorf("%w: max_accel must be > 0, got %f", ErrInvalidParams, p.MaxAccel)
	}
	if p.FilterAlpha < 0 || p.FilterAlpha >= 1 {
		return fmt.Errorf("%w: filter_alpha must be in [0, 1), got %f", ErrInvalidParams, p.FilterAlpha)
	}

	switch p.StepStrategy {
	case StepStrategyPeak, StepStrategyHardware:
	default:
		return fmt.Errorf("%w: unknown step strategy %q", ErrInvalidParams, p.StepStrategy)
	}
	if p.PeakThreshold <= 0 {
		return fmt.Errorf("%w: peak_threshold must be > 0, got %f", ErrInvalidParams, p.PeakThreshold)
	}
	if p.MinStepInterval < 0 {
		return fmt.Errorf("%w: min_step_interval must be >= 0, got %v", ErrInvalidParams, p.MinStepInterval)
	}
	if p.StepLength <= 0 {
		return fmt.Errorf("%w: step_length must be > 0, got %f", ErrInvalidParams, p.StepLength)
	}
	if p.StepsMultiplier <= 0 {
		return fmt.Errorf("%w: steps_multiplier must be > 0, got %f", ErrInvalidParams, p.StepsMultiplier)
	}

	if err := p.HeadingKalman.validate("heading"); err != nil {
		return err
	}

	switch p.PositionStrategy {
	case PositionStrategyStep, PositionStrategyInertial:
	default:
		return fmt.Errorf("%w: unknown position strategy %q", ErrInvalidParams, p.PositionStrategy)
	}
	if err := p.PositionKalman.validate("position"); err != nil {
		return err
	}
	if p.MovementThreshold < 0 {
		return fmt.Errorf("%w: movement_threshold must be >= 0, got %f", ErrInvalidParams, p.MovementThreshold)
	}
	if p.VelocityDecay < 0 || p.VelocityDecay > 1 {
		return fmt.Errorf("%w: velocity_decay must be in [0, 1], got %f", ErrInvalidParams, p.VelocityDecay)
	}
	if p.MaxDt <= 0 {
		return fmt.Errorf("%w: max_dt must be > 0, got %v", ErrInvalidParams, p.MaxDt)
	}

	if p.MinCornerDistance <= 0 {
		return fmt.Errorf("%w: min_corner_distance must be > 0, got %f", ErrInvalidParams, p.MinCornerDistance)
	}
	return nil
}
