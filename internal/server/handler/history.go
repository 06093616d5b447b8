package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// HistoryStore lists persisted validation transitions.
type HistoryStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.ValidationRecord, error)
}

// HistoryHandler serves the validation history of one symbol.
type HistoryHandler struct {
	store  HistoryStore
	symbol string
}

// NewHistoryHandler lists symbol's recorded verdict transitions from store.
func NewHistoryHandler(store HistoryStore, symbol string) *HistoryHandler {
	return &HistoryHandler{store: store, symbol: symbol}
}

// ListHistory responds with transitions newest first.
// GET /api/validation/history?since=RFC3339&limit=N&offset=N
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLimit, maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0, 1<<20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := domain.ListOpts{Symbol: h.symbol, Limit: limit, Offset: offset}
	if s := r.URL.Query().Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		opts.Since = &since
	}

	records, err := h.store.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, "reading validation history failed")
		return
	}
	if records == nil {
		records = []domain.ValidationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
