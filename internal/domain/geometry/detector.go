package geometry

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Detector is a named placement of a Model in the global frame. Rotation is
// about the global z axis, in radians.
type Detector struct {
	name      string
	model     *Model
	position  r3.Vec
	rotationZ float64
}

// NewDetector places model at position with the given rotation about z.
func NewDetector(name string, model *Model, position r3.Vec, rotationZ float64) *Detector {
	return &Detector{name: name, model: model, position: position, rotationZ: rotationZ}
}

// Name returns the detector identity.
func (d *Detector) Name() string { return d.name }

// Model returns the detector's geometry model.
func (d *Detector) Model() *Model { return d.model }

// Position returns the global position of the local origin.
func (d *Detector) Position() r3.Vec { return d.position }

// RotationZ returns the rotation about z in radians.
func (d *Detector) RotationZ() float64 { return d.rotationZ }

var zAxis = r3.Vec{Z: 1}

// ToGlobal maps a local-frame point to the global frame.
func (d *Detector) ToGlobal(local r3.Vec) r3.Vec {
	if d.rotationZ == 0 {
		return r3.Add(local, d.position)
	}
	return r3.Add(r3.NewRotation(d.rotationZ, zAxis).Rotate(local), d.position)
}

// ToLocal maps a global-frame point to the local frame.
func (d *Detector) ToLocal(global r3.Vec) r3.Vec {
	shifted := r3.Sub(global, d.position)
	if d.rotationZ == 0 {
		return shifted
	}
	return r3.NewRotation(-d.rotationZ, zAxis).Rotate(shifted)
}
