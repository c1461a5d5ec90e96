package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/pixreco/internal/domain/types"
	"github.com/okian/pixreco/pkg/metrics"
)

// HealthReporter reports liveness details.
type HealthReporter interface {
	Health(ctx context.Context) types.Health
}

// HealthHandler handles health and metrics requests.
type HealthHandler struct {
	reporter HealthReporter
	metrics  http.Handler
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(reporter HealthReporter) *HealthHandler {
	return &HealthHandler{
		reporter: reporter,
		metrics:  promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

// HandleHealth handles GET /healthz.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reporter.Health(r.Context()))
}

// HandleMetrics serves the Prometheus registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}
