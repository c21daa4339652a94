package coord

import "math"

// Point is a position in machine space, in millimeters.
type Point struct{ X, Y, Z float64 }

func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y && p.Z == b.Z
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

// Get returns the value for axis letter w ('X', 'Y' or 'Z').
func (p Point) Get(w byte) float64 {
	switch w {
	case 'X':
		return p.X
	case 'Y':
		return p.Y
	case 'Z':
		return p.Z
	}
	return math.NaN()
}

// With returns a copy of p with the value for axis letter w replaced.
func (p Point) With(w byte, val float64) Point {
	switch w {
	case 'X':
		p.X = val
	case 'Y':
		p.Y = val
	case 'Z':
		p.Z = val
	}
	return p
}
