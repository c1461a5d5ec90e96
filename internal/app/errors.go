package service

import "errors"

var (
	ErrSetup      = errors.New("setup failed")
	ErrNotStarted = errors.New("service not started")
	ErrNoStore    = errors.New("cluster storage disabled")
)
