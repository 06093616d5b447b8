package handler

import (
	"net/http"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// StatsSource returns the most recent monitor cycle.
type StatsSource interface {
	Latest() (domain.BookStats, bool)
}

// LevelSource returns the sorted top of the book.
type LevelSource interface {
	Symbol() string
	Levels(depth int) (bids, asks []domain.PriceLevel)
}

// BookHandler serves the live book.
type BookHandler struct {
	stats  StatsSource
	levels LevelSource
}

// NewBookHandler serves stats from stats and depth from levels; in tail mode
// both come from the relayed view.
func NewBookHandler(stats StatsSource, levels LevelSource) *BookHandler {
	return &BookHandler{stats: stats, levels: levels}
}

// GetStats responds with the latest BookStats.
// GET /api/book
func (h *BookHandler) GetStats(w http.ResponseWriter, _ *http.Request) {
	stats, ok := h.stats.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, domain.ErrNotReady.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetLevels responds with the top depth levels per side.
// GET /api/book/levels?depth=N
func (h *BookHandler) GetLevels(w http.ResponseWriter, r *http.Request) {
	depth, err := intParam(r, "depth", defaultDepth, maxDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bids, asks := h.levels.Levels(depth)
	if bids == nil {
		bids = []domain.PriceLevel{}
	}
	if asks == nil {
		asks = []domain.PriceLevel{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": h.levels.Symbol(),
		"depth":  depth,
		"bids":   bids,
		"asks":   asks,
	})
}
