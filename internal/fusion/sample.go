// Package fusion implements the pedestrian dead-reckoning core: signal
// conditioning, step detection, Kalman-smoothed heading, position
// integration and fitness metrics.
package fusion

import (
	"math"
	"time"

	"github.com/teslashibe/go-pdr/internal/room"
)

// Position is a 2-D point in the session frame (meters from start)
type Position = room.Point

// Sample3 is one 3-axis sensor reading
type Sample3 struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSample3 builds a sample from an axis slice. Anything other than
// exactly three values is an ErrInvalidInput; missing axes are never
// zero-filled.
func NewSample3(values []float64, at time.Time) (Sample3, error) {
	if len(values) != 3 {
		return Sample3{}, invalidAxes(len(values))
	}
	return Sample3{X: values[0], Y: values[1], Z: values[2], Timestamp: at}, nil
}

func (s Sample3) axes() [3]float64 {
	return [3]float64{s.X, s.Y, s.Z}
}

func (s Sample3) finite() bool {
	return isFinite(s.X) && isFinite(s.Y) && isFinite(s.Z)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Stage tags which pipeline phase produced a snapshot's last side effect
type Stage string

const (
	StageDataCollection    Stage = "DATA_COLLECTION"
	StagePreprocessing     Stage = "PREPROCESSING"
	StageFeatureExtraction Stage = "FEATURE_EXTRACTION"
	StageClassification    Stage = "CLASSIFICATION"
)

// FitnessLevel is a coarse classification of session effort
type FitnessLevel string

const (
	FitnessBeginner     FitnessLevel = "BEGINNER"
	FitnessIntermediate FitnessLevel = "INTERMEDIATE"
	FitnessAdvanced     FitnessLevel = "ADVANCED"
)

// Snapshot is the engine's output after each processed sample. It is a
// value; holding one never aliases engine state.
type Snapshot struct {
	Steps                 int          `json:"steps"`
	Distance              float64      `json:"distance"` // meters
	Pace                  float64      `json:"pace"`
	Calories              float64      `json:"calories"`
	FitnessLevel          FitnessLevel `json:"fitness_level"`
	Stage                 Stage        `json:"stage"`
	AccelerationMagnitude float64      `json:"acceleration_magnitude"`

	Heading   float64   `json:"heading"` // degrees, [0, 360)
	Position  Position  `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}
