// Package repository persists cluster n-tuples and run summaries in SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/pkg/logger"
	"github.com/okian/pixreco/pkg/metrics"
)

// Store provides write access for a reconstruction run and read access for
// reports.
type Store interface {
	// AppendClusters buffers cluster rows; they are written in batches.
	AppendClusters(ctx context.Context, rows []model.ClusterRecord) error
	// Flush writes every buffered row.
	Flush(ctx context.Context) error
	// SaveSummary stores the per-detector report and closes the run.
	SaveSummary(ctx context.Context, s analysis.Summary) error

	// Clusters returns the stored rows of one event, in detector then
	// ordinal order.
	Clusters(ctx context.Context, eventID string) ([]model.ClusterRecord, error)
	// Count returns the number of stored cluster rows of the run.
	Count(ctx context.Context) (int, error)
	// Summary loads the stored report of the run.
	Summary(ctx context.Context) ([]analysis.DetectorSummary, error)

	Close() error
}

// SQLiteStore implements Store on a modernc SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	runID     string
	runName   string
	batchSize int

	mu      sync.Mutex
	pending []model.ClusterRecord
	closed  bool

	logger logger.Logger
}

// Open opens or creates the database at path, applies migrations and
// registers the run.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		batchSize: defaultBatchSize,
		logger:    logger.Get().Named("repository"),
	}
	WithRun("", "")(s)
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one writer; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)
	s.db = db

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	version, err := s.SchemaVersion()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, name, started_at) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET name = excluded.name`,
		s.runID, s.runName, time.Now().UTC()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}
	s.logger.Info(ctx, "store opened", logger.String("path", path), logger.String("run", s.runID),
		logger.Int("schema", int(version)))
	return s, nil
}

// RunID returns the identifier the store writes under.
func (s *SQLiteStore) RunID() string { return s.runID }

// AppendClusters buffers rows and writes a batch once enough are pending.
// When that write fails the rows of this call are dropped, so a failed event
// leaves nothing behind; rows buffered earlier stay pending.
func (s *SQLiteStore) AppendClusters(ctx context.Context, rows []model.ClusterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev := len(s.pending)
	s.pending = append(s.pending, rows...)
	if len(s.pending) < s.batchSize {
		return nil
	}
	if err := s.flushLocked(ctx); err != nil {
		clear(s.pending[prev:])
		s.pending = s.pending[:prev]
		return err
	}
	return nil
}

// Flush writes every buffered row.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked(ctx)
}

func (s *SQLiteStore) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO clusters (
		run_id, event_id, event, detector, ordinal, size, size_x, size_y, charge,
		local_x, local_y, local_z, global_x, global_y, global_z, seed_x, seed_y, particles
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range s.pending {
		particles, err := json.Marshal(r.Particles)
		if err != nil {
			return fmt.Errorf("encode particles: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			s.runID, r.EventID, int64(r.Event), r.Detector, r.Ordinal, r.Size, r.SizeX, r.SizeY, r.Charge,
			r.Local.X, r.Local.Y, r.Local.Z, r.Global.X, r.Global.Y, r.Global.Z,
			r.Seed.X, r.Seed.Y, string(particles),
		); err != nil {
			metrics.RecordErrorByComponent("repository", "insert")
			return fmt.Errorf("insert cluster %s/%s/%d: %w", r.EventID, r.Detector, r.Ordinal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	metrics.RecordRepositoryWrite("clusters", len(s.pending), float64(time.Since(start).Microseconds())/1000)
	s.pending = s.pending[:0]
	return nil
}

// SaveSummary stores the report of every detector and marks the run finished.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sum analysis.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range sum.Detectors {
		classes, err := json.Marshal(d.Classes)
		if err != nil {
			return fmt.Errorf("encode classes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO summaries (
			run_id, detector, events, skipped, clusters, conversions, efficiency,
			residual_mean_x, residual_rms_x, residual_mean_y, residual_rms_y, classes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.runID, d.Detector, int64(d.Events), int64(sum.Skipped), int64(d.Clusters), int64(d.Conversions),
			d.Efficiency, d.ResidualMeanX, d.ResidualRMSX, d.ResidualMeanY, d.ResidualRMSY, string(classes),
		); err != nil {
			return fmt.Errorf("insert summary %q: %w", d.Detector, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE run_id = ?`,
		time.Now().UTC(), s.runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	metrics.RecordRepositoryWrite("summaries", len(sum.Detectors), float64(time.Since(start).Microseconds())/1000)
	return nil
}

// Clusters returns the stored rows of one event.
func (s *SQLiteStore) Clusters(ctx context.Context, eventID string) ([]model.ClusterRecord, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		event_id, event, detector, ordinal, size, size_x, size_y, charge,
		local_x, local_y, local_z, global_x, global_y, global_z, seed_x, seed_y, particles
		FROM clusters WHERE run_id = ? AND event_id = ? ORDER BY detector, ordinal`,
		s.runID, eventID)
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	var out []model.ClusterRecord
	for rows.Next() {
		var (
			r         model.ClusterRecord
			event     int64
			particles sql.NullString
		)
		if err := rows.Scan(&r.EventID, &event, &r.Detector, &r.Ordinal, &r.Size, &r.SizeX, &r.SizeY, &r.Charge,
			&r.Local.X, &r.Local.Y, &r.Local.Z, &r.Global.X, &r.Global.Y, &r.Global.Z,
			&r.Seed.X, &r.Seed.Y, &particles); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		r.Event = uint64(event)
		if particles.Valid && particles.String != "" {
			if err := json.Unmarshal([]byte(particles.String), &r.Particles); err != nil {
				return nil, fmt.Errorf("decode particles: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored cluster rows of the run.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clusters WHERE run_id = ?`, s.runID).Scan(&n)
	return n, err
}

// Summary loads the stored report of the run.
func (s *SQLiteStore) Summary(ctx context.Context) ([]analysis.DetectorSummary, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		detector, events, clusters, conversions, efficiency,
		residual_mean_x, residual_rms_x, residual_mean_y, residual_rms_y, classes
		FROM summaries WHERE run_id = ? ORDER BY detector`, s.runID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []analysis.DetectorSummary
	for rows.Next() {
		var (
			d                          analysis.DetectorSummary
			events, clusters, converts int64
			classes                    string
		)
		if err := rows.Scan(&d.Detector, &events, &clusters, &converts, &d.Efficiency,
			&d.ResidualMeanX, &d.ResidualRMSX, &d.ResidualMeanY, &d.ResidualRMSY, &classes); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		d.Events, d.Clusters, d.Conversions = uint64(events), uint64(clusters), uint64(converts)
		if err := json.Unmarshal([]byte(classes), &d.Classes); err != nil {
			return nil, fmt.Errorf("decode classes: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.runID)
	}
	return out, nil
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close flushes pending rows and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked(context.Background())
	s.closed = true
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}
