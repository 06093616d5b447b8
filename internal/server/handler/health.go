package handler

import (
	"net/http"
	"time"
)

// BookStatus is the liveness view of the book.
type BookStatus interface {
	Ready() bool
	LatencyMs() int64
	UpdateCount() uint64
}

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	book   BookStatus
	maxAge time.Duration
}

// NewHealthHandler reports the book as stale once no update arrived for
// maxAge.
func NewHealthHandler(book BookStatus, maxAge time.Duration) *HealthHandler {
	return &HealthHandler{book: book, maxAge: maxAge}
}

// HealthCheck answers 200 while the book is ready and fresh, 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	ready := h.book.Ready()
	latency := h.book.LatencyMs()
	fresh := h.maxAge <= 0 || time.Duration(latency)*time.Millisecond <= h.maxAge

	status, code := "ok", http.StatusOK
	if !ready || !fresh {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"book_ready": ready,
		"latency_ms": latency,
		"updates":    h.book.UpdateCount(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
