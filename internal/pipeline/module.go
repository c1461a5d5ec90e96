package pipeline

import (
	"context"

	"github.com/okian/pixreco/internal/messenger"
)

// Module is one processing stage. A module bound to a detector sees only that
// detector's messages and runs once per event for it; an unbound module
// (Detector returns messenger.Wildcard) runs once per event and sees every
// detector.
type Module interface {
	Name() string
	Detector() string
	Consumes() []messenger.Kind
	Produces() []messenger.Kind

	Init(ctx context.Context) error
	Run(ctx context.Context, ev *Event) error
	Finalize(ctx context.Context) error
}

// Skipper is implemented by modules that may decline an event, for example
// when an expected message never arrived. A skipped module is not a failure.
type Skipper interface {
	Skip(ev *Event) bool
}

// Base carries the identity of a module and no-op lifecycle hooks; embed it
// and override what the module needs.
type Base struct {
	ModuleName    string
	DetectorName  string
	ConsumedKinds []messenger.Kind
	ProducedKinds []messenger.Kind
}

func (b *Base) Name() string                   { return b.ModuleName }
func (b *Base) Detector() string               { return b.DetectorName }
func (b *Base) Consumes() []messenger.Kind     { return b.ConsumedKinds }
func (b *Base) Produces() []messenger.Kind     { return b.ProducedKinds }
func (b *Base) Init(context.Context) error     { return nil }
func (b *Base) Finalize(context.Context) error { return nil }
