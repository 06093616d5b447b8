package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
	"github.com/alanyoungcy/orderflowbot/internal/platform/bybit"
)

const (
	defaultReconnectDelay    = 5 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second
	// stableConnection is how long a connection must last before the
	// reconnect backoff resets.
	stableConnection = time.Minute
)

// BookApplier is the write side of an order book.
type BookApplier interface {
	ApplySnapshot(bids, asks []domain.Level)
	ApplyDelta(bids, asks []domain.Level)
}

// BybitConfig configures a BybitFeed.
type BybitConfig struct {
	WSURL             string
	Symbol            string
	Depth             int
	Auth              bybit.Auth
	PingPeriod        time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// FeedStats counts what a feed has applied so far.
type FeedStats struct {
	Snapshots   uint64
	Deltas      uint64
	Dropped     uint64
	Connections uint64
}

// BybitFeed connects to the Bybit order book topic for one symbol and applies
// every frame to a book. Deltas received before the first snapshot of a
// connection are dropped. It reconnects with backoff until ctx is done.
type BybitFeed struct {
	cfg    BybitConfig
	topic  string
	book   BookApplier
	logger *slog.Logger

	synced      atomic.Bool
	snapshots   atomic.Uint64
	deltas      atomic.Uint64
	dropped     atomic.Uint64
	connections atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewBybitFeed creates a feed applying cfg.Symbol frames to book.
func NewBybitFeed(cfg BybitConfig, book BookApplier, logger *slog.Logger) *BybitFeed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(defaultMaxReconnectDelay, cfg.ReconnectDelay)
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 50
	}
	return &BybitFeed{
		cfg:    cfg,
		topic:  bybit.OrderbookTopic(cfg.Depth, cfg.Symbol),
		book:   book,
		logger: logger.With(slog.String("component", "bybit_feed"), slog.String("symbol", cfg.Symbol)),
		done:   make(chan struct{}),
	}
}

// Topic returns the subscribed topic name.
func (f *BybitFeed) Topic() string { return f.topic }

// Stats returns the running counters.
func (f *BybitFeed) Stats() FeedStats {
	return FeedStats{
		Snapshots:   f.snapshots.Load(),
		Deltas:      f.deltas.Load(),
		Dropped:     f.dropped.Load(),
		Connections: f.connections.Load(),
	}
}

// Run connects, subscribes and applies frames until ctx is cancelled or Close
// is called.
func (f *BybitFeed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		started := time.Now()
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > stableConnection {
			delay = f.cfg.ReconnectDelay
		}
		f.logger.WarnContext(ctx, "bybit ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, f.cfg.MaxReconnectDelay)
	}
}

func (f *BybitFeed) runConnection(ctx context.Context) error {
	client := bybit.NewWSClient(f.cfg.WSURL, f.cfg.PingPeriod, f.logger)
	defer client.Close()

	f.synced.Store(false)
	client.OnOrderbook(f.topic, f.handle)

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	f.connections.Add(1)

	if !f.cfg.Auth.Empty() {
		if err := client.Authenticate(f.cfg.Auth); err != nil {
			return err
		}
	}
	if err := client.Subscribe(f.topic); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "bybit ws subscribed", slog.String("topic", f.topic))

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-f.done:
			stop()
		case <-waitCtx.Done():
		}
	}()

	err = client.Wait(waitCtx)
	select {
	case <-f.done:
		return nil
	default:
	}
	return err
}

func (f *BybitFeed) handle(msg bybit.OrderbookMessage) {
	if msg.Data.Symbol != "" && msg.Data.Symbol != f.cfg.Symbol {
		f.dropped.Add(1)
		return
	}
	bids, asks := msg.Data.Levels()

	if msg.IsSnapshot() {
		f.book.ApplySnapshot(bids, asks)
		f.synced.Store(true)
		f.snapshots.Add(1)
		return
	}
	if !f.synced.Load() {
		f.dropped.Add(1)
		return
	}
	f.book.ApplyDelta(bids, asks)
	f.deltas.Add(1)
}

// Close stops the feed.
func (f *BybitFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
