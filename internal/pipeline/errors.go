package pipeline

import "errors"

// Sentinel kinds for pipeline errors.
var (
	ErrCycle           = errors.New("module dependency cycle")
	ErrModuleFailed    = errors.New("module failed")
	ErrBuilt           = errors.New("pipeline already built")
	ErrNotBuilt        = errors.New("pipeline not built")
	ErrDuplicateModule = errors.New("duplicate module")
	ErrEventState      = errors.New("invalid event state")
	ErrUndeclaredKind  = errors.New("module published an undeclared kind")
)
