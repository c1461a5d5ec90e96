package model

import "gonum.org/v1/gonum/spatial/r3"

// Point is a position in millimetres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec converts p for geometry arithmetic.
func (p Point) Vec() r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }

// PointOf converts a geometry vector.
func PointOf(v r3.Vec) Point { return Point{X: v.X, Y: v.Y, Z: v.Z} }
