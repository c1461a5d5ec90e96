package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/pixreco/internal/adapters/mq/queue"
	"github.com/okian/pixreco/internal/domain/dedupe"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/domain/types"
	"github.com/okian/pixreco/pkg/metrics"
)

const maxEventBytes = 32 << 20

// EventDependencies defines what event ingest needs.
type EventDependencies interface {
	dedupe.Deduper
	Submit(ctx context.Context, e *model.Event) error
}

// EventsHandler handles event submissions.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandlePostEvent handles POST /events. Submissions are idempotent by event
// ID; a refused submission is forgotten so the client can retry.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var ev model.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(ev.ID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing id")))
		return
	}
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	if h.deps.SeenAndRecord(r.Context(), ev.ID) {
		metrics.RecordEventDuplicate()
		writeJSON(w, http.StatusOK, types.Ack{Status: "duplicate", EventID: ev.ID, Duplicate: true})
		return
	}

	if err := h.deps.Submit(r.Context(), &ev); err != nil {
		h.deps.Unrecord(r.Context(), ev.ID)
		if errors.Is(err, queue.ErrFull) {
			writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusAccepted, types.Ack{Status: "accepted", EventID: ev.ID})
}
