// Package messenger routes typed, detector-scoped messages to subscribers.
//
// Subscriptions are registered during setup and resolved into a fixed routing
// table by Seal; after that the bus is read-only and may be shared by any
// number of concurrently processed events. The event being processed travels
// as the E argument, so messages never leak between events.
package messenger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Handler receives a message on behalf of an event.
type Handler[E any] func(ctx context.Context, ev E, msg *Message) error

type subscription[E any] struct {
	name     string
	detector string
	handle   Handler[E]
}

// Bus is a typed publish/subscribe registry keyed by (kind, detector).
type Bus[E any] struct {
	mu     sync.Mutex
	sealed atomic.Bool
	subs   [kindCount][]subscription[E]
	routes [kindCount]map[string][]subscription[E]
}

// New returns an empty, unsealed bus.
func New[E any]() *Bus[E] {
	return &Bus[E]{}
}

// Subscribe registers handler for messages of kind. A Wildcard detector
// receives messages of every detector.
func (b *Bus[E]) Subscribe(kind Kind, detector, name string, handler Handler[E]) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed.Load() {
		return fmt.Errorf("%w: cannot subscribe %q", ErrSealed, name)
	}
	b.subs[kind] = append(b.subs[kind], subscription[E]{name: name, detector: detector, handle: handler})
	return nil
}

// Seal freezes the subscription table and precomputes the delivery list for
// every detector seen in a subscription. Sealing twice is a no-op.
func (b *Bus[E]) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed.Load() {
		return
	}
	for k := range b.subs {
		detectors := map[string]struct{}{Wildcard: {}}
		for _, s := range b.subs[k] {
			detectors[s.detector] = struct{}{}
		}
		b.routes[k] = make(map[string][]subscription[E], len(detectors))
		for d := range detectors {
			b.routes[k][d] = b.match(Kind(k), d)
		}
	}
	b.sealed.Store(true)
}

// match keeps registration order.
func (b *Bus[E]) match(kind Kind, detector string) []subscription[E] {
	var out []subscription[E]
	for _, s := range b.subs[kind] {
		if s.detector == Wildcard || detector == Wildcard || s.detector == detector {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus[E]) route(kind Kind, detector string) []subscription[E] {
	if r, ok := b.routes[kind][detector]; ok {
		return r
	}
	// a detector nobody subscribed to explicitly reaches the wildcards only
	var out []subscription[E]
	for _, s := range b.routes[kind][Wildcard] {
		if s.detector == Wildcard {
			out = append(out, s)
		}
	}
	return out
}

// Dispatch delivers msg synchronously to every matching subscriber in
// registration order and returns the number of deliveries. A message nobody
// subscribed to is not an error. The first handler error stops delivery.
func (b *Bus[E]) Dispatch(ctx context.Context, ev E, msg *Message) (int, error) {
	if !b.sealed.Load() {
		return 0, ErrNotSealed
	}
	if !msg.Kind.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrUnknownKind, msg.Kind)
	}
	delivered := 0
	for _, s := range b.route(msg.Kind, msg.Detector) {
		if err := s.handle(ctx, ev, msg); err != nil {
			return delivered, fmt.Errorf("%w: %q on %s from %q: %w", ErrHandler, s.name, msg.Kind, msg.Source, err)
		}
		delivered++
	}
	return delivered, nil
}

// Subscribers lists the subscribers a message of kind for detector would
// reach, in delivery order.
func (b *Bus[E]) Subscribers(kind Kind, detector string) []string {
	if !kind.Valid() {
		return nil
	}
	var subs []subscription[E]
	if b.sealed.Load() {
		subs = b.route(kind, detector)
	} else {
		b.mu.Lock()
		subs = b.match(kind, detector)
		b.mu.Unlock()
	}
	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = s.name
	}
	return names
}

// Sealed reports whether Seal has been called.
func (b *Bus[E]) Sealed() bool { return b.sealed.Load() }
