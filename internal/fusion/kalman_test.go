package fusion

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKalman_FirstUpdate(t *testing.T) {
	k := NewKalman(DefaultKalmanParams())

	got := k.Update(11)
	// gain = 1.0 / (1.0 + 0.1)
	assert.InDelta(t, 10.0, got, 1e-9)
	assert.InDelta(t, (1-1/1.1)*1.0+0.1, k.ErrorEstimate(), 1e-9)
}

func TestKalman_Converges(t *testing.T) {
	k := NewKalman(DefaultKalmanParams())

	for i := 0; i < 100; i++ {
		k.Update(42)
	}
	assert.InDelta(t, 42.0, k.Estimate(), 1e-6)
}

func TestKalman_ErrorNeverNegative(t *testing.T) {
	params := []KalmanParams{
		DefaultKalmanParams(),
		{MeasurementNoise: 0.001, ProcessNoise: 0, InitialError: 0},
		{MeasurementNoise: 10, ProcessNoise: 5, InitialError: 100},
	}

	rng := rand.New(rand.NewSource(1))
	for _, p := range params {
		k := NewKalman(p)
		for i := 0; i < 1000; i++ {
			k.Update(rng.NormFloat64() * 100)
			if k.ErrorEstimate() < 0 {
				t.Fatalf("error estimate went negative: %f (params %+v)", k.ErrorEstimate(), p)
			}
		}
	}
}

func TestKalman_ResetRestoresInitialError(t *testing.T) {
	p := DefaultKalmanParams()
	k := NewKalman(p)
	for i := 0; i < 10; i++ {
		k.Update(5)
	}

	k.Reset()
	assert.Zero(t, k.Estimate())
	assert.Equal(t, p.InitialError, k.ErrorEstimate())
}

func TestKalman_SetKeepsError(t *testing.T) {
	k := NewKalman(DefaultKalmanParams())
	k.Update(3)
	errBefore := k.ErrorEstimate()

	k.Set(100)
	assert.Equal(t, 100.0, k.Estimate())
	assert.Equal(t, errBefore, k.ErrorEstimate())
}
