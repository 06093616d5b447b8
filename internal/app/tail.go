package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

const levelsTimeout = 2 * time.Second

// tailView is the book as seen from the published stats of another process:
// the last BookStats for one symbol plus the levels mirrored into the cache.
type tailView struct {
	symbol string
	cache  domain.BookCache
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	latest   domain.BookStats
	received time.Time
	seen     bool
	count    atomic.Uint64
}

func newTailView(symbol string, cache domain.BookCache, logger *slog.Logger) *tailView {
	return &tailView{
		symbol: symbol,
		cache:  cache,
		logger: logger.With(slog.String("component", "tail_view")),
		now:    time.Now,
	}
}

// Follow consumes channel until ctx is done, keeping stats for the symbol.
func (v *tailView) Follow(ctx context.Context, bus domain.SignalBus, channel string) error {
	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			var stats domain.BookStats
			if err := json.Unmarshal(data, &stats); err != nil {
				v.logger.WarnContext(ctx, "dropping malformed stats", slog.String("error", err.Error()))
				continue
			}
			v.observe(stats)
		}
	}
}

func (v *tailView) observe(stats domain.BookStats) {
	if stats.Symbol != v.symbol {
		return
	}
	v.mu.Lock()
	v.latest = stats
	v.received = v.now()
	v.seen = true
	v.mu.Unlock()
	v.count.Add(1)
}

func (v *tailView) Latest() (domain.BookStats, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.latest, v.seen
}

func (v *tailView) Symbol() string { return v.symbol }

func (v *tailView) Ready() bool {
	s, ok := v.Latest()
	return ok && s.Ready()
}

// LatencyMs is the age of the last received stats plus the data age the
// publisher reported with them.
func (v *tailView) LatencyMs() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.seen {
		return 0
	}
	return v.now().Sub(v.received).Milliseconds() + v.latest.LatencyMs
}

func (v *tailView) UpdateCount() uint64 { return v.count.Load() }

// Levels reads the mirrored levels from the cache. A cache failure yields an
// empty book.
func (v *tailView) Levels(depth int) (bids, asks []domain.PriceLevel) {
	if v.cache == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), levelsTimeout)
	defer cancel()
	bids, asks, err := v.cache.GetSnapshot(ctx, v.symbol, depth)
	if err != nil {
		v.logger.Debug("levels unavailable", slog.String("error", err.Error()))
		return nil, nil
	}
	return bids, asks
}
