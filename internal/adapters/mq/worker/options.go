package worker

import (
	"github.com/okian/pixreco/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithFailureHandler registers a callback invoked after every failed event.
func WithFailureHandler(fn func(event Event, err error)) Option {
	return func(w *InMemoryWorker) {
		w.onFailure = fn
	}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithAbortOnError stops the whole pool at the first failed event.
func WithAbortOnError(abort bool) PoolOption {
	return func(p *Pool) {
		p.abortOnError = abort
	}
}
