// Package worker runs simulated events through the reconstruction chain on a
// pool of goroutines. Each worker owns its statistics; they are merged only
// after the pool has stopped.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/pkg/logger"
	"github.com/okian/pixreco/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// ErrAborted is returned by Pool.Err after an abort-on-error stop.
var ErrAborted = errors.New("run aborted")

// Event is what workers read off the queue.
type Event = *model.Event

// Processor runs one event and folds its statistics into stats, which belongs
// to the calling worker.
type Processor interface {
	Process(ctx context.Context, event *model.Event, stats *analysis.Collection) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events from a queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue drains.
	Run(ctx context.Context)

	// Shutdown stops the worker after the event in flight.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker with a worker-confined collection.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	stats     *analysis.Collection
	name      string
	onFailure func(Event, error)

	processed atomic.Uint64
	failed    atomic.Uint64

	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker accumulating into a fresh collection.
func NewInMemoryWorker(queue Queue, processor Processor, settings *analysis.Settings, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     queue,
		processor: processor,
		stats:     analysis.NewCollection(settings),
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			w.processEvent(ctx, event)
		}
	}
}

// Shutdown stops the worker after the event in flight.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when the worker loop has returned.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// Stats returns the worker's collection. It must not be read while the
// worker is running.
func (w *InMemoryWorker) Stats() *analysis.Collection { return w.stats }

// Processed returns the number of completed events.
func (w *InMemoryWorker) Processed() uint64 { return w.processed.Load() }

// Failed returns the number of failed events.
func (w *InMemoryWorker) Failed() uint64 { return w.failed.Load() }

func (w *InMemoryWorker) processEvent(ctx context.Context, event Event) {
	start := time.Now()
	err := w.processor.Process(ctx, event, w.stats)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	if !event.Received.IsZero() {
		metrics.RecordEventLatency(float64(time.Since(event.Received).Microseconds()) / 1000)
	}

	if err != nil {
		w.failed.Add(1)
		metrics.RecordEventFailed()
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "event_failed")
		w.logger.Error(ctx, "event failed",
			logger.String("event", event.ID),
			logger.Error(err),
		)
		if w.onFailure != nil {
			w.onFailure(event, err)
		}
		return
	}
	w.processed.Add(1)
	metrics.RecordEventProcessed()
}

// Pool manages multiple workers.
type Pool struct {
	workers      []*InMemoryWorker
	queue        Queue
	abortOnError bool

	cancel context.CancelFunc
	mu     sync.Mutex
	err    error
	active atomic.Int64

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers; a non-positive count uses
// one worker per CPU.
func NewPool(workerCount int, queue Queue, processor Processor, settings *analysis.Settings, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(queue, processor, settings,
			WithName("worker-"+strconv.Itoa(i)),
			WithFailureHandler(p.fail),
		)
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(workerCount)
	return p
}

// Start starts all workers. Cancelling ctx stops them without draining.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		go func() {
			p.setActive(1)
			defer p.setActive(-1)
			w.Run(ctx)
		}()
	}
}

func (p *Pool) setActive(delta int64) {
	n := p.active.Add(delta)
	metrics.UpdateWorkerActiveCount(int(n))
	metrics.UpdateWorkerIdleCount(len(p.workers) - int(n))
}

func (p *Pool) fail(event Event, err error) {
	if !p.abortOnError {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	p.err = fmt.Errorf("%w: event %s: %w", ErrAborted, event.ID, err)
	p.logger.Error(context.Background(), "aborting run", logger.String("event", event.ID), logger.Error(err))
	if p.cancel != nil {
		p.cancel()
	}
}

// Err returns the error that aborted the pool, if any.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop stops every worker after its event in flight, leaving queued events.
func (p *Pool) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			p.logger.Warn(ctx, "worker stop timed out", logger.Int("worker_id", i))
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	if timedOut {
		return fmt.Errorf("pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}

// Collections returns the per-worker collections. Call it only after Stop or
// Shutdown has returned.
func (p *Pool) Collections() []*analysis.Collection {
	out := make([]*analysis.Collection, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Stats()
	}
	return out
}

// Processed returns the completed event count across workers.
func (p *Pool) Processed() uint64 {
	var n uint64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Failed returns the failed event count across workers.
func (p *Pool) Failed() uint64 {
	var n uint64
	for _, w := range p.workers {
		n += w.Failed()
	}
	return n
}

// Active returns the number of running worker loops.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }
