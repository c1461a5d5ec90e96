// Package types contains the response shapes shared by the service and its
// HTTP surface.
package types

import (
	"time"

	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/model"
)

// Ack answers an event submission.
type Ack struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Health answers /healthz.
type Health struct {
	Status     string `json:"status"`
	QueueDepth int    `json:"queue_depth"`
	Workers    int    `json:"workers"`
}

// ClusterList is the stored reconstruction of one event.
type ClusterList struct {
	EventID  string                `json:"event_id"`
	Clusters []model.ClusterRecord `json:"clusters"`
}

// Report is the outcome of a finalized run.
type Report struct {
	RunID      string           `json:"run_id"`
	Name       string           `json:"name"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Failed     uint64           `json:"failed"`
	Summary    analysis.Summary `json:"summary"`
	Plots      []string         `json:"plots,omitempty"`
}
