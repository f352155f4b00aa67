package room

import (
	"sync"
)

// DefaultMinCornerDistance is the displacement a position must exceed, relative
// to the last recorded corner, before it becomes a new corner.
const DefaultMinCornerDistance = 20.0

// Accumulator builds a corner polyline by greedy simplification: a position
// becomes a corner only when it is farther than MinDistance from the
// previous corner. Corner count therefore grows with path length, not with
// sample count.
type Accumulator struct {
	mu          sync.RWMutex
	minDistance float64
	last        *Point
	corners     []Point
}

// NewAccumulator creates an accumulator. A non-positive minDistance falls
// back to DefaultMinCornerDistance.
func NewAccumulator(minDistance float64) *Accumulator {
	if minDistance <= 0 {
		minDistance = DefaultMinCornerDistance
	}
	return &Accumulator{minDistance: minDistance}
}

// Observe feeds the current position. It returns true when p was appended
// as a corner.
func (a *Accumulator) Observe(p Point) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.last == nil {
		a.last = &p
		a.corners = []Point{p}
		return true
	}

	if a.last.DistanceTo(p) > a.minDistance {
		a.corners = append(a.corners, p)
		a.last = &p
		return true
	}
	return false
}

// MarkCorner appends p unconditionally and makes it the reference for the
// next distance check. Re-seating the reference is deliberate: a manually
// marked corner must not be followed by an automatic one closer than
// MinDistance.
func (a *Accumulator) MarkCorner(p Point) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.corners = append(a.corners, p)
	a.last = &p
}

// Corners returns a copy of the corner list in insertion order
func (a *Accumulator) Corners() []Point {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Point, len(a.corners))
	copy(out, a.corners)
	return out
}

// Len returns the number of corners
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.corners)
}

// MinDistance returns the configured corner spacing
func (a *Accumulator) MinDistance() float64 {
	return a.minDistance
}

// Reset clears all corners (session boundary)
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.last = nil
	a.corners = nil
}
