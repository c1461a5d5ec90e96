// Package api exposes event ingest, run statistics and metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/pixreco/internal/domain/dedupe"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/domain/types"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	dedupe.Deduper

	// Submit queues an event. It returns queue.ErrFull on backpressure and
	// queue.ErrClosed once the run is finalizing.
	Submit(ctx context.Context, e *model.Event) error

	// Clusters returns the stored clusters of one event.
	Clusters(ctx context.Context, eventID string) ([]model.ClusterRecord, error)

	// Report returns the finalized run, if any.
	Report() (*types.Report, bool)

	// Health reports liveness details.
	Health(ctx context.Context) types.Health
}

// Server wires HTTP routes.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	eventsHandler  *EventsHandler
	resultsHandler *ResultsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(deps),
		statsHandler:   NewStatsHandler(statsProvider),
		eventsHandler:  NewEventsHandler(deps),
		resultsHandler: NewResultsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/clusters/", MetricsMiddleware(s.resultsHandler.HandleGetClusters, "clusters"))
	mux.HandleFunc("/summary", MetricsMiddleware(s.resultsHandler.HandleGetSummary, "summary"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, types.ErrorBody{Code: code, Message: msg})
}
