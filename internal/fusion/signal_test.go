package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignalConditioner_Clamp(t *testing.T) {
	c := NewSignalConditioner(50, 0)

	out := c.Condition(Sample3{X: 120, Y: -80, Z: 3})
	assert.Equal(t, 50.0, out.X)
	assert.Equal(t, -50.0, out.Y)
	assert.Equal(t, 3.0, out.Z)
}

func TestSignalConditioner_EMA(t *testing.T) {
	c := NewSignalConditioner(50, 0.8)

	// memory starts at zero
	out := c.Condition(Sample3{X: 10})
	assert.InDelta(t, 2.0, out.X, 1e-9)

	out = c.Condition(Sample3{X: 10})
	assert.InDelta(t, 0.8*2.0+0.2*10, out.X, 1e-9)
}

func TestSignalConditioner_KeepsTimestamp(t *testing.T) {
	c := NewSignalConditioner(50, 0.8)
	at := time.Unix(1700000000, 0)

	out := c.Condition(Sample3{X: 1, Timestamp: at})
	assert.True(t, out.Timestamp.Equal(at))
}

func TestSignalConditioner_Magnitude(t *testing.T) {
	c := NewSignalConditioner(50, 0)
	c.Condition(Sample3{X: 3, Y: 4, Z: 0})

	assert.InDelta(t, 5.0, c.Magnitude(), 1e-9)
}

func TestSignalConditioner_Reset(t *testing.T) {
	c := NewSignalConditioner(50, 0.8)
	c.Condition(Sample3{X: 10, Y: 10, Z: 10})
	c.Reset()

	assert.Equal(t, [3]float64{}, c.Filtered())
	assert.Zero(t, c.Magnitude())
}
