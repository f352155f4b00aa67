// Package room accumulates a room-shape corner polyline from a dead-reckoned
// trajectory and converts it to and from its persistence record.
package room

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Point is a 2-D position in the session's local frame (meters from start)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Orb converts the point to an orb.Point
func (p Point) Orb() orb.Point {
	return orb.Point{p.X, p.Y}
}

// FromOrb converts an orb.Point back to a Point
func FromOrb(p orb.Point) Point {
	return Point{X: p.X(), Y: p.Y()}
}

// DistanceTo returns the planar Euclidean distance between two points
func (p Point) DistanceTo(q Point) float64 {
	return planar.Distance(p.Orb(), q.Orb())
}

// ApproxEqual reports whether both coordinates are within tol
func (p Point) ApproxEqual(q Point, tol float64) bool {
	return math.Abs(p.X-q.X) <= tol && math.Abs(p.Y-q.Y) <= tol
}
