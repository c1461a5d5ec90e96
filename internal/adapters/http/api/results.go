package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/domain/types"
)

// ResultDependencies defines what result queries need.
type ResultDependencies interface {
	Clusters(ctx context.Context, eventID string) ([]model.ClusterRecord, error)
	Report() (*types.Report, bool)
}

// ResultsHandler serves reconstruction results.
type ResultsHandler struct {
	deps ResultDependencies
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps ResultDependencies) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

// HandleGetClusters handles GET /clusters/{eventID}.
func (h *ResultsHandler) HandleGetClusters(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_clusters"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/clusters/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, nil))
		return
	}
	clusters, err := h.deps.Clusters(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	if len(clusters) == 0 {
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, types.ClusterList{EventID: id, Clusters: clusters})
}

// HandleGetSummary handles GET /summary. It answers 404 until the run has
// been finalized.
func (h *ResultsHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_summary"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	report, ok := h.deps.Report()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, report)
}
