// Package service wires configuration, geometry, the module pipeline, the
// worker pool and the sinks into one reconstruction run, and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/pixreco/internal/adapters/mq/queue"
	workerpool "github.com/okian/pixreco/internal/adapters/mq/worker"
	"github.com/okian/pixreco/internal/adapters/render"
	"github.com/okian/pixreco/internal/adapters/repository"
	"github.com/okian/pixreco/internal/adapters/source"
	"github.com/okian/pixreco/internal/config"
	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/dedupe"
	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/domain/types"
	"github.com/okian/pixreco/internal/modules"
	"github.com/okian/pixreco/internal/pipeline"
	"github.com/okian/pixreco/pkg/logger"
	"github.com/okian/pixreco/pkg/metrics"
)

// Service runs one reconstruction: events go in through Submit or Replay and
// Finalize turns the accumulated statistics into a report.
type Service struct {
	mu sync.RWMutex

	cfg   *config.Config
	runID string

	// Core components
	registry   *geometry.Registry
	pipeline   *pipeline.Pipeline
	deduper    dedupe.Deduper
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	store      repository.Store
	ownsStore  bool
	renderer   *render.Renderer

	// State
	started   bool
	startedAt time.Time
	report    *types.Report

	finalizeMu sync.Mutex

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.runID = id
		}
	}
}

// WithStore uses an already opened store instead of opening database_path.
// The caller keeps ownership and closes it.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// New constructs a Service for cfg. A nil cfg uses config.New().
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	return s
}

// RunID returns the run identifier.
func (s *Service) RunID() string { return s.runID }

// Start validates the configuration, builds the geometry and the pipeline,
// opens the sinks and starts the workers. Any setup error aborts the run.
// Cancelling ctx stops the workers without draining the queue.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service").With(logger.String("run", s.runID))
	}
	cfg := s.cfg

	if err := cfg.Validate(); err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	if s.store == nil && cfg.DatabasePath != "" {
		st, err := repository.Open(ctx, cfg.DatabasePath, repository.WithRun(s.runID, cfg.RunName))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSetup, err)
		}
		s.store, s.ownsStore = st, true
	}
	var sink modules.Sink
	if s.store != nil {
		sink = s.store
	}

	mods, err := modules.Standard(reg, &cfg.Analysis, sink, cfg.ClusteringOptions()...)
	if err != nil {
		s.closeStore()
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	p := pipeline.New()
	if err := p.Add(mods...); err != nil {
		s.closeStore()
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}
	if err := p.Build(ctx); err != nil {
		s.closeStore()
		return fmt.Errorf("%w: %w", ErrSetup, err)
	}

	s.registry = reg
	s.pipeline = p
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.EventQueueSize))
	s.workerPool = workerpool.NewPool(cfg.WorkerCount, s.eventQueue, s, &cfg.Analysis,
		workerpool.WithAbortOnError(cfg.AbortOnError))
	if cfg.OutputDir != "" {
		s.renderer = render.New(cfg.OutputDir)
	}
	s.workerPool.Start(ctx)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "reconstruction started",
		logger.String("name", cfg.RunName),
		logger.Any("modules", p.Order()),
		logger.Int("detectors", len(reg.Detectors())),
		logger.Int("workers", cfg.WorkerCount),
		logger.Int("queueSize", cfg.EventQueueSize),
		logger.Bool("persist", s.store != nil),
	)
	return nil
}

// Process runs the pipeline over one event and folds its tally into stats
// when every module succeeded. It is called by the workers.
func (s *Service) Process(ctx context.Context, in *model.Event, stats *analysis.Collection) error {
	tally := analysis.NewTally()
	ev := pipeline.NewEvent(in, tally)
	if err := s.pipeline.Process(ctx, ev); err != nil {
		stats.Skip()
		return err
	}
	stats.Apply(tally)
	return nil
}

// SeenAndRecord reports whether an event id was already submitted and
// records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	return s.deduper.SeenAndRecord(ctx, id)
}

// Unrecord forgets an event id so it can be submitted again.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the number of remembered event ids.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Submit validates and queues an event without waiting. It returns
// queue.ErrFull when the queue is at capacity and queue.ErrClosed once the
// run is finalizing.
func (s *Service) Submit(ctx context.Context, e *model.Event) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	if err := e.Validate(); err != nil {
		return err
	}
	err := s.eventQueue.TryEnqueue(ctx, e)
	if err != nil && !errors.Is(err, eventqueue.ErrFull) {
		s.logger.Warn(ctx, "event refused", logger.String("event", e.ID), logger.Error(err))
	}
	return err
}

// Replay queues every event of a JSON-lines file, skipping ids already seen.
// It waits while the queue is full.
func (s *Service) Replay(ctx context.Context, path string) (int, error) {
	if !s.isStarted() {
		return 0, ErrNotStarted
	}
	r, err := source.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()
	return source.Replay(ctx, r, dedupedQueue{s})
}

// dedupedQueue drops events whose id was already submitted and forgets the id
// again when the queue refuses the event.
type dedupedQueue struct{ s *Service }

func (q dedupedQueue) TryEnqueue(ctx context.Context, e *model.Event) error {
	if q.s.SeenAndRecord(ctx, e.ID) {
		metrics.RecordEventDuplicate()
		q.s.logger.Debug(ctx, "duplicate event skipped", logger.String("event", e.ID))
		return nil
	}
	if err := q.s.Submit(ctx, e); err != nil {
		q.s.Unrecord(ctx, e.ID)
		return err
	}
	return nil
}

// Finalize closes the queue, waits for the workers to drain it, finalizes the
// modules, merges the worker statistics and writes the summary and plots.
// Calling it again returns the same report.
func (s *Service) Finalize(ctx context.Context) (*types.Report, error) {
	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()

	if report, ok := s.Report(); ok {
		return report, nil
	}
	if !s.isStarted() {
		return nil, ErrNotStarted
	}

	if err := s.workerPool.Shutdown(ctx); err != nil {
		return nil, fmt.Errorf("drain workers: %w", err)
	}
	finalizeErr := s.pipeline.Finalize(ctx)
	if err := s.workerPool.Err(); err != nil {
		return nil, errors.Join(err, finalizeErr)
	}
	if finalizeErr != nil {
		return nil, finalizeErr
	}

	agg := analysis.NewAggregator(&s.cfg.Analysis)
	for _, c := range s.workerPool.Collections() {
		if err := agg.Add(c); err != nil {
			return nil, fmt.Errorf("merge statistics: %w", err)
		}
	}
	total := agg.Total()
	summary := total.Summary()

	if s.store != nil {
		if err := s.store.SaveSummary(ctx, summary); err != nil {
			return nil, fmt.Errorf("save summary: %w", err)
		}
	}
	var plots []string
	if s.renderer != nil {
		var err error
		if plots, err = s.renderer.Render(ctx, total); err != nil {
			return nil, fmt.Errorf("render plots: %w", err)
		}
	}

	report := &types.Report{
		RunID:      s.runID,
		Name:       s.cfg.RunName,
		StartedAt:  s.startedAt,
		FinishedAt: time.Now(),
		Failed:     s.workerPool.Failed(),
		Summary:    summary,
		Plots:      plots,
	}
	s.logSummary(ctx, report)

	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
	return report, nil
}

func (s *Service) logSummary(ctx context.Context, r *types.Report) {
	s.logger.Info(ctx, "run finished",
		logger.Uint64("events", r.Summary.Events),
		logger.Uint64("skipped", r.Summary.Skipped),
		logger.Uint64("failed", r.Failed),
		logger.Any("tracks", r.Summary.Tracks),
		logger.Int("plots", len(r.Plots)),
		logger.Duration("elapsed", r.FinishedAt.Sub(r.StartedAt)),
	)
	for _, d := range r.Summary.Detectors {
		s.logger.Info(ctx, "detector summary",
			logger.String("detector", d.Detector),
			logger.Uint64("clusters", d.Clusters),
			logger.Uint64("conversions", d.Conversions),
			logger.Float64("efficiency_percent", d.Efficiency),
			logger.Float64("residual_rms_x", d.ResidualRMSX),
			logger.Float64("residual_rms_y", d.ResidualRMSY),
			logger.Any("classes", d.Classes),
		)
	}
}

// Report returns the finalized run, if any.
func (s *Service) Report() (*types.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report, s.report != nil
}

// Clusters returns the stored clusters of one event.
func (s *Service) Clusters(ctx context.Context, eventID string) ([]model.ClusterRecord, error) {
	s.mu.RLock()
	st := s.store
	s.mu.RUnlock()
	if st == nil {
		return nil, ErrNoStore
	}
	if err := st.Flush(ctx); err != nil {
		return nil, err
	}
	return st.Clusters(ctx, eventID)
}

// Health reports liveness details.
func (s *Service) Health(ctx context.Context) types.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := types.Health{Status: "starting"}
	if !s.started {
		return h
	}
	h.Status = "ok"
	if s.report != nil {
		h.Status = "finalized"
	}
	h.QueueDepth = s.eventQueue.Len(ctx)
	h.Workers = s.workerPool.Active()
	return h
}

// Stop releases the service. Queued events that were not finalized are
// dropped.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping reconstruction service...")

	if s.report == nil {
		s.workerPool.Stop()
		_ = s.eventQueue.Close()
	}
	s.closeStore()

	s.started = false
	s.logger.Info(ctx, "reconstruction service stopped")
}

func (s *Service) closeStore() {
	if !s.ownsStore || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(context.Background(), "closing store", logger.Error(err))
	}
	s.store, s.ownsStore = nil, false
}

func (s *Service) isStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"runId":       s.runID,
		"name":        s.cfg.RunName,
		"started":     s.started,
		"finalized":   s.report != nil,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.EventQueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}

	if s.started {
		queueLen := s.eventQueue.Len(context.Background())
		stats["queueLength"] = queueLen
		stats["processed"] = s.workerPool.Processed()
		stats["failed"] = s.workerPool.Failed()
		stats["activeWorkers"] = s.workerPool.Active()
		stats["modules"] = s.pipeline.Order()
		stats["detectors"] = len(s.registry.Detectors())

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.workerPool.Size())
	}

	return stats
}
