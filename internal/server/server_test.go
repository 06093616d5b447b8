package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
	"github.com/alanyoungcy/orderflowbot/internal/server/handler"
)

type stubBook struct{}

func (stubBook) Ready() bool         { return true }
func (stubBook) LatencyMs() int64    { return 1 }
func (stubBook) UpdateCount() uint64 { return 1 }
func (stubBook) Symbol() string      { return "BTCUSDT" }
func (stubBook) Levels(int) ([]domain.PriceLevel, []domain.PriceLevel) {
	return []domain.PriceLevel{{Price: 100, Quantity: 1}}, []domain.PriceLevel{{Price: 101, Quantity: 1}}
}
func (stubBook) Latest() (domain.BookStats, bool) {
	return domain.BookStats{Symbol: "BTCUSDT", BestBid: 100, BestAsk: 101}, true
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func newTestServer(cfg Config, limiter domain.RateLimiter) http.Handler {
	book := stubBook{}
	h := Handlers{
		Health:  handler.NewHealthHandler(book, 0),
		Status:  &handler.StatusHandler{Mode: "monitor", Symbol: "BTCUSDT", StartedAt: time.Now()},
		Book:    handler.NewBookHandler(book, book),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "# metrics\n") }),
	}
	return NewServer(cfg, h, limiter, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler()
}

func do(h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	h := newTestServer(Config{}, nil)

	for _, path := range []string{"/api/health", "/api/status", "/api/book", "/api/book/levels", "/metrics"} {
		assert.Equal(t, http.StatusOK, do(h, path, nil).Code, path)
	}
	// Optional handlers were not supplied.
	assert.Equal(t, http.StatusNotFound, do(h, "/api/archive", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(h, "/ws", nil).Code)
}

func TestAuthLeavesHealthAndMetricsOpen(t *testing.T) {
	h := newTestServer(Config{APIKey: "secret"}, nil)

	assert.Equal(t, http.StatusOK, do(h, "/api/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, "/metrics", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "/api/book", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, "/api/book", map[string]string{"X-API-Key": "secret"}).Code)
}

func TestRateLimitApplied(t *testing.T) {
	h := newTestServer(Config{RateLimit: 1}, denyAll{})
	assert.Equal(t, http.StatusTooManyRequests, do(h, "/api/status", nil).Code)

	h = newTestServer(Config{}, denyAll{})
	assert.Equal(t, http.StatusOK, do(h, "/api/status", nil).Code)
}
