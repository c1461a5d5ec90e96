package geometry

import "errors"

// Sentinel kinds for geometry errors. Errors that refer to a named detector
// or model wrap one of these with the offending name.
var (
	ErrInvalidDetector = errors.New("could not find detector")
	ErrInvalidModel    = errors.New("could not find detector model")
	ErrDetectorExists  = errors.New("detector is already registered")
	ErrModelExists     = errors.New("detector model is already registered")
	ErrRegistryFrozen  = errors.New("geometry registry is frozen")
	ErrBadModel        = errors.New("invalid detector model parameters")
)
