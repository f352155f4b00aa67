package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeMetrics_Zero(t *testing.T) {
	m := ComputeMetrics(0, 0, 0, DefaultMetricsParams())

	assert.Zero(t, m.Pace)
	assert.Zero(t, m.Calories)
	assert.Equal(t, FitnessBeginner, m.FitnessLevel)
}

func TestComputeMetrics_ZeroDistanceWithTime(t *testing.T) {
	m := ComputeMetrics(0, 0, 10*time.Minute, DefaultMetricsParams())
	assert.Zero(t, m.Pace)
}

func TestComputeMetrics_Pace(t *testing.T) {
	// 10 minutes over 1 km
	m := ComputeMetrics(1333, 1000, 10*time.Minute, DefaultMetricsParams())

	assert.InDelta(t, 0.86, m.Pace, 1e-9)
	assert.InDelta(t, 1333*0.04+1000*0.05+0.86*0.1, m.Calories, 1e-9)
	assert.Equal(t, FitnessAdvanced, m.FitnessLevel)
}

func TestComputeMetrics_FitnessLevels(t *testing.T) {
	p := DefaultMetricsParams()
	tests := []struct {
		name     string
		distance float64
		want     FitnessLevel
	}{
		{"beginner", 100, FitnessBeginner},
		{"at intermediate bound", 500, FitnessBeginner},
		{"intermediate", 600, FitnessIntermediate},
		{"at advanced bound", 1000, FitnessIntermediate},
		{"advanced", 1200, FitnessAdvanced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ComputeMetrics(0, tt.distance, 0, p)
			assert.Equal(t, tt.want, m.FitnessLevel)
		})
	}
}
