package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventStartup, " alert "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventStartup, "a", "m"))
	require.NoError(t, n.Notify(context.Background(), EventValidation, "b", "m"))
	require.NoError(t, n.Notify(context.Background(), EventAlert, "c", "m"))
	require.NoError(t, n.NotifyAll(context.Background(), "d", "m"))

	assert.Equal(t, []string{"a", "c", "d"}, s.sent())
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	require.NoError(t, n.Notify(context.Background(), "anything", "x", "m"))
	assert.Equal(t, []string{"x"}, s.sent())
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, quietLogger()).Enabled())
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, []string{"t"}, good.sent())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad webhook"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400: bad webhook")
}

func TestMemoryGate(t *testing.T) {
	g := NewMemoryGate()
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := g.Allow(ctx, "k", time.Minute)
	assert.True(t, ok)
	ok, _ = g.Allow(ctx, "k", time.Minute)
	assert.False(t, ok)
	ok, _ = g.Allow(ctx, "other", time.Minute)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = g.Allow(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(ctx, "k", 3, time.Minute)
		assert.True(t, ok)
		now = now.Add(10 * time.Second)
	}
	ok, _ := l.Allow(ctx, "k", 3, time.Minute)
	assert.False(t, ok)

	now = now.Add(31 * time.Second) // first event leaves the window
	ok, _ = l.Allow(ctx, "k", 3, time.Minute)
	assert.True(t, ok)
}

func TestStartupGateSuppressesWithinCooldown(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	gate := NewStartupGate(NewMemoryGate(), 0, quietLogger())

	require.NoError(t, gate.Announce(context.Background(), n, "BTCUSDT", true, "run-1"))
	err := gate.Announce(context.Background(), n, "BTCUSDT", true, "run-2")
	assert.ErrorIs(t, err, domain.ErrCooldown)
	assert.Equal(t, []string{"Bot Started"}, s.sent())
}

func TestThrottle(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	th := NewThrottle(NewMemoryLimiter(), 1, time.Hour)
	ctx := context.Background()

	require.NoError(t, th.Notify(ctx, n, "BTCUSDT", EventAlert, "a1", "m"))
	assert.ErrorIs(t, th.Notify(ctx, n, "BTCUSDT", EventAlert, "a2", "m"), domain.ErrCooldown)
	require.NoError(t, th.Notify(ctx, n, "ETHUSDT", EventAlert, "a3", "m"))
	assert.Equal(t, []string{"a1", "a3"}, s.sent())
}

func TestMessages(t *testing.T) {
	title, msg := StartupMessage("BTCUSDT", false, "r")
	assert.Equal(t, "Bot Started", title)
	assert.Contains(t, msg, "MAINNET")

	title, msg = ValidationMessage("BTCUSDT", "", "Wide Spread", domain.BookStats{SpreadPct: 0.001, LatencyMs: 12})
	assert.Equal(t, "Validation Wide Spread", title)
	assert.Contains(t, msg, "none -> Wide Spread")
	assert.Contains(t, msg, "Spread: 0.1000%")
	assert.Contains(t, msg, "Latency: 12ms")
}
