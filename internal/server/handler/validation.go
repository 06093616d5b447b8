package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// EventLog returns the newest entries of a stream, newest first.
type EventLog interface {
	StreamLatest(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// ValidationHandler serves the recorded validation transitions.
type ValidationHandler struct {
	log    EventLog
	stream string
}

// NewValidationHandler reads the newest events of stream.
func NewValidationHandler(log EventLog, stream string) *ValidationHandler {
	return &ValidationHandler{log: log, stream: stream}
}

type validationEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents responds with the newest transitions.
// GET /api/validation/events?limit=N
func (h *ValidationHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLimit, maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := h.log.StreamLatest(r.Context(), h.stream, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "reading validation events failed")
		return
	}
	out := make([]validationEvent, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, validationEvent{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
