package messenger

import "errors"

// Sentinel kinds for bus errors.
var (
	ErrSealed      = errors.New("messenger is sealed")
	ErrNotSealed   = errors.New("messenger is not sealed")
	ErrHandler     = errors.New("subscriber failed")
	ErrUnknownKind = errors.New("unknown message kind")
)
