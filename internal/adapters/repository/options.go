package repository

import "github.com/google/uuid"

const defaultBatchSize = 512

// Option applies a configuration option to the SQLiteStore.
type Option func(*SQLiteStore)

// WithRun names the run whose rows the store writes. An empty id is replaced
// by a random one.
func WithRun(id, name string) Option {
	return func(s *SQLiteStore) {
		if id == "" {
			id = uuid.NewString()
		}
		s.runID = id
		s.runName = name
	}
}

// WithBatchSize sets how many cluster rows are buffered before a write.
func WithBatchSize(n int) Option {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}
