package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/messenger"
	"github.com/okian/pixreco/pkg/metrics"
)

// State is the lifecycle of one event.
type State int

const (
	Pending State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event is one unit of pipeline work. It owns every message published while
// it is processed; nothing in it is shared with other events.
type Event struct {
	in    *model.Event
	tally *analysis.Tally
	state State

	p       *Pipeline
	current int
	inbox   [][]*messenger.Message
	err     error
}

// NewEvent wraps a transport event. A nil tally gets a fresh one.
func NewEvent(in *model.Event, tally *analysis.Tally) *Event {
	if tally == nil {
		tally = analysis.NewTally()
	}
	return &Event{in: in, tally: tally, state: Pending, current: -1}
}

// State returns the current lifecycle state.
func (e *Event) State() State { return e.state }

// Input returns the transport event.
func (e *Event) Input() *model.Event { return e.in }

// Stats returns the event's pending statistics; they are applied to the
// worker's collection only if the event completes.
func (e *Event) Stats() *analysis.Tally { return e.tally }

// Publish dispatches msg on behalf of the running module. A dispatch failure
// fails the event even if the module ignores the returned error.
func (e *Event) Publish(ctx context.Context, msg *messenger.Message) error {
	if e.state != Running || e.current < 0 {
		return fmt.Errorf("%w: publish while %s", ErrEventState, e.state)
	}
	mod := e.p.modules[e.current]
	if !slices.Contains(mod.Produces(), msg.Kind) {
		err := fmt.Errorf("%w: %q published %s", ErrUndeclaredKind, mod.Name(), msg.Kind)
		e.err = err
		return err
	}
	msg.Source = mod.Name()
	n, err := e.p.bus.Dispatch(ctx, e, msg)
	metrics.RecordMessageDispatched(msg.Kind.String(), n)
	if err != nil {
		e.err = err
		return err
	}
	return nil
}

// Received returns the messages of kind delivered to the running module, in
// publication order.
func (e *Event) Received(kind messenger.Kind) []*messenger.Message {
	if e.current < 0 {
		return nil
	}
	var out []*messenger.Message
	for _, m := range e.inbox[e.current] {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (e *Event) deliver(slot int, msg *messenger.Message) {
	e.inbox[slot] = append(e.inbox[slot], msg)
}

// release drops the event's messages once processing is over.
func (e *Event) release() {
	e.inbox = nil
	e.current = -1
}
