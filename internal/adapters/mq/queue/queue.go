// Package queue holds simulated events between ingest and the worker pool.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/pkg/metrics"
)

const defaultQueueCapacity = 4096

// Event is the payload flowing through the queue.
type Event = *model.Event

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event. It returns false if the queue is full or closed.
	Enqueue(ctx context.Context, e Event) bool

	// TryEnqueue is Enqueue reporting why the event was refused.
	TryEnqueue(ctx context.Context, e Event) error

	// Dequeue returns a channel that receives events as they become
	// available. The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Event

	// Len returns the current number of queued events.
	Len(ctx context.Context) int

	// Close stops accepting events; queued events are still delivered.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a bounded in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)
	return q
}

// Capacity returns the maximum number of pending events.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Enqueue adds an event to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool {
	return q.TryEnqueue(ctx, e) == nil
}

// TryEnqueue adds an event to the queue, stamping its arrival time.
func (q *InMemoryQueue) TryEnqueue(ctx context.Context, e Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if e.Received.IsZero() {
		e.Received = time.Now()
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		q.updateGauges()
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue returns a channel that will receive events as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case e, ok := <-q.events:
				if !ok {
					return
				}
				select {
				case out <- e:
					metrics.RecordQueueDequeue()
					metrics.RecordQueueWait(float64(time.Since(e.Received).Milliseconds()))
					q.updateGauges()
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len(context.Context) int {
	return q.updateGauges()
}

func (q *InMemoryQueue) updateGauges() int {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close stops accepting events. It is idempotent.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
