package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

type fakeBook struct {
	ready   bool
	latency int64
}

func (f fakeBook) Ready() bool         { return f.ready }
func (f fakeBook) LatencyMs() int64    { return f.latency }
func (f fakeBook) UpdateCount() uint64 { return 7 }
func (f fakeBook) Symbol() string      { return "BTCUSDT" }

func (f fakeBook) Levels(depth int) ([]domain.PriceLevel, []domain.PriceLevel) {
	if !f.ready {
		return nil, nil
	}
	bids := []domain.PriceLevel{{Price: 100, Quantity: 1}, {Price: 99, Quantity: 2}}
	asks := []domain.PriceLevel{{Price: 101, Quantity: 1}, {Price: 102, Quantity: 3}}
	return bids[:min(depth, 2)], asks[:min(depth, 2)]
}

type fakeStats struct {
	stats domain.BookStats
	ok    bool
}

func (f fakeStats) Latest() (domain.BookStats, bool) { return f.stats, f.ok }

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func get(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := get(NewHealthHandler(fakeBook{ready: true, latency: 20}, 0).HealthCheck, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 7.0, body["updates"])

	rec = get(NewHealthHandler(fakeBook{ready: true, latency: 9000}, 5000_000_000).HealthCheck, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(NewHealthHandler(fakeBook{}, 0).HealthCheck, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decode(t, rec)["book_ready"])
}

func TestGetStats(t *testing.T) {
	h := NewBookHandler(fakeStats{}, fakeBook{})
	rec := get(h.GetStats, "/api/book")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = NewBookHandler(fakeStats{stats: domain.BookStats{Symbol: "BTCUSDT", BestBid: 100}, ok: true}, fakeBook{})
	rec = get(h.GetStats, "/api/book")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100.0, decode(t, rec)["best_bid"])
}

func TestGetLevels(t *testing.T) {
	h := NewBookHandler(fakeStats{}, fakeBook{ready: true})

	rec := get(h.GetLevels, "/api/book/levels?depth=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Symbol string              `json:"symbol"`
		Depth  int                 `json:"depth"`
		Bids   []domain.PriceLevel `json:"bids"`
		Asks   []domain.PriceLevel `json:"asks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTCUSDT", body.Symbol)
	assert.Equal(t, 1, body.Depth)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Quantity: 1}}, body.Bids)

	rec = get(h.GetLevels, "/api/book/levels?depth=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(h.GetLevels, "/api/book/levels?depth=100000")
	assert.Equal(t, float64(maxDepth), decode(t, rec)["depth"])

	rec = get(NewBookHandler(fakeStats{}, fakeBook{}).GetLevels, "/api/book/levels")
	assert.JSONEq(t, `{"symbol":"BTCUSDT","depth":20,"bids":[],"asks":[]}`, rec.Body.String())
}

type fakeLog struct {
	msgs []domain.StreamMessage
	err  error
	got  int
}

func (f *fakeLog) StreamLatest(_ context.Context, _ string, count int) ([]domain.StreamMessage, error) {
	f.got = count
	return f.msgs, f.err
}

func TestListValidationEvents(t *testing.T) {
	log := &fakeLog{msgs: []domain.StreamMessage{
		{ID: "2-0", Payload: []byte(`{"to":"Valid"}`)},
		{ID: "1-0", Payload: []byte(`not json`)},
	}}
	rec := get(NewValidationHandler(log, "s").ListEvents, "/api/validation/events?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, log.got)
	assert.JSONEq(t, `{"events":[{"id":"2-0","event":{"to":"Valid"}}]}`, rec.Body.String())

	rec = get(NewValidationHandler(&fakeLog{err: errors.New("down")}, "s").ListEvents, "/api/validation/events")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

type memReader map[string][]byte

func (m memReader) Get(_ context.Context, p string) (io.ReadCloser, error) {
	b, ok := m[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m memReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestArchiveHandler(t *testing.T) {
	key := "archive/stats/BTCUSDT/2026-03-04/r-000000.jsonl.gz"
	h := NewArchiveHandler(memReader{key: gz(t, `{"symbol":"BTCUSDT","best_bid":5}`+"\n")}, "", "BTCUSDT")

	rec := get(h.ListObjects, "/api/archive?day=2026-03-04")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), key)

	rec = get(h.ListObjects, "/api/archive?day=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(h.ListObjects, "/api/archive?day=2026-01-01")
	assert.JSONEq(t, `{"objects":[]}`, rec.Body.String())

	rec = get(h.GetObject, "/api/archive/object?key="+key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"best_bid":5`)

	rec = get(h.GetObject, "/api/archive/object?key=missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(h.GetObject, "/api/archive/object?key=../etc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeHistory struct {
	records []domain.ValidationRecord
	opts    domain.ListOpts
}

func (f *fakeHistory) List(_ context.Context, opts domain.ListOpts) ([]domain.ValidationRecord, error) {
	f.opts = opts
	return f.records, nil
}

func TestListHistory(t *testing.T) {
	store := &fakeHistory{records: []domain.ValidationRecord{{ID: 3, Symbol: "BTCUSDT", From: "Valid", To: "DataStale"}}}
	h := NewHistoryHandler(store, "BTCUSDT")

	rec := get(h.ListHistory, "/api/validation/history?since=2026-01-02T03:04:05Z&limit=2&offset=4")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"to":"DataStale"`)
	assert.Equal(t, "BTCUSDT", store.opts.Symbol)
	assert.Equal(t, 2, store.opts.Limit)
	assert.Equal(t, 4, store.opts.Offset)
	require.NotNil(t, store.opts.Since)
	assert.Equal(t, 2026, store.opts.Since.Year())

	rec = get(h.ListHistory, "/api/validation/history?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(NewHistoryHandler(&fakeHistory{}, "BTCUSDT").ListHistory, "/api/validation/history")
	assert.JSONEq(t, `{"records":[]}`, rec.Body.String())
}
