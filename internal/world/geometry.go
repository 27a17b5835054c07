// Package world provides the neighbourhood layout: positions, houses,
// noise-driven generation and the spatial index used for proximity queries.
package world

import "math"

// Vec2 is a position on the continuous neighbourhood plane.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two positions.
func Distance(a, b Vec2) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// MoveToward advances from toward to by at most step.
// Returns the new position and whether the target was reached.
func MoveToward(from, to Vec2, step float64) (Vec2, bool) {
	d := Distance(from, to)
	if d <= step || d == 0 {
		return to, true
	}
	f := step / d
	return Vec2{X: from.X + (to.X-from.X)*f, Y: from.Y + (to.Y-from.Y)*f}, false
}

// Clamp keeps a position inside the [0,w]×[0,h] rectangle.
func (v Vec2) Clamp(w, h float64) Vec2 {
	v.X = math.Max(0, math.Min(w, v.X))
	v.Y = math.Max(0, math.Min(h, v.Y))
	return v
}
