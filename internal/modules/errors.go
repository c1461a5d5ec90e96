package modules

import "errors"

// Sentinel kinds for module errors.
var (
	ErrOutOfGrid   = errors.New("pixel index outside the detector grid")
	ErrNoDetectors = errors.New("no detectors configured")
)
