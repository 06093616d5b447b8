package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves process metadata.
type StatusHandler struct {
	Mode      string
	Symbol    string
	RunID     string
	StartedAt time.Time
	// Feed returns feed counters; optional.
	Feed func() any
}

// GetStatus responds with the mode, run and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"mode":           h.Mode,
		"symbol":         h.Symbol,
		"run_id":         h.RunID,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	}
	if h.Feed != nil {
		body["feed"] = h.Feed()
	}
	writeJSON(w, http.StatusOK, body)
}
