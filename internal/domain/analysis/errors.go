package analysis

import "errors"

// Sentinel kinds for analysis errors.
var (
	ErrBinning         = errors.New("incompatible histogram binning")
	ErrUnknownDetector = errors.New("no statistics booked for detector")
	ErrSettings        = errors.New("invalid analysis settings")
)
