package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrClosed   = errors.New("store closed")
	ErrMigrate  = errors.New("schema migration failed")
	ErrNotFound = errors.New("run not found")
)
