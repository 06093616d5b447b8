// Package orderbook maintains a continuously consistent limit order book for a
// single symbol. A single producer applies snapshots and deltas; any number of
// readers may query best prices (lock free) and sorted depth concurrently.
package orderbook

import (
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// Apply durations above these are logged as slow when Options leaves the
// thresholds unset.
const (
	DefaultSlowSnapshot = 100 * time.Microsecond
	DefaultSlowDelta    = 50 * time.Microsecond
)

// Observer receives timing for every mutation. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	ObserveSnapshot(symbol string, elapsed time.Duration)
	ObserveDelta(symbol string, elapsed time.Duration, rebuilt bool)
	ObserveRebuild(symbol string, elapsed time.Duration)
}

// Options configures a Book. Zero values select defaults.
type Options struct {
	SlowSnapshot time.Duration
	SlowDelta    time.Duration
	Logger       *slog.Logger
	Observer     Observer
	Now          func() time.Time
}

// Book is the order-book engine for one symbol.
type Book struct {
	symbol string
	bids   *levelStore
	asks   *levelStore
	view   sortedView
	bbo    bboPublisher

	// rebuildMu keeps the published BBO and the sorted view from the same
	// rebuild.
	rebuildMu sync.Mutex

	lastUpdate atomic.Int64
	updates    atomic.Uint64

	slowSnapshot time.Duration
	slowDelta    time.Duration
	logger       *slog.Logger
	observer     Observer
	now          func() time.Time
}

// New creates an empty book. Until the first snapshot BestBidAsk reports
// (NoBid, NoAsk).
func New(symbol string, opts Options) *Book {
	b := &Book{
		symbol:       symbol,
		bids:         newLevelStore(),
		asks:         newLevelStore(),
		slowSnapshot: opts.SlowSnapshot,
		slowDelta:    opts.SlowDelta,
		logger:       opts.Logger,
		observer:     opts.Observer,
		now:          opts.Now,
	}
	if b.slowSnapshot <= 0 {
		b.slowSnapshot = DefaultSlowSnapshot
	}
	if b.slowDelta <= 0 {
		b.slowDelta = DefaultSlowDelta
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With(slog.String("component", "orderbook"), slog.String("symbol", symbol))
	if b.now == nil {
		b.now = time.Now
	}
	b.bbo.reset()
	return b
}

// Symbol returns the symbol the book was created for.
func (b *Book) Symbol() string { return b.symbol }

// ApplySnapshot replaces both sides of the book. Entries with a non-positive
// quantity are ignored.
func (b *Book) ApplySnapshot(bids, asks []domain.Level) {
	start := time.Now()

	b.bids.clear()
	b.asks.clear()
	for _, l := range bids {
		if l.Quantity > 0 {
			b.bids.put(l.Price, l.Quantity)
		}
	}
	for _, l := range asks {
		if l.Quantity > 0 {
			b.asks.put(l.Price, l.Quantity)
		}
	}
	b.rebuild()

	elapsed := time.Since(start)
	if elapsed > b.slowSnapshot {
		b.logger.Warn("slow snapshot processing",
			slog.Duration("elapsed", elapsed),
			slog.Int("bids", len(bids)),
			slog.Int("asks", len(asks)),
		)
	}
	if b.observer != nil {
		b.observer.ObserveSnapshot(b.symbol, elapsed)
	}

	b.lastUpdate.Store(b.now().UnixMilli())
	b.updates.Add(1)
}

// ApplyDelta applies incremental level changes. A quantity of zero (or less)
// removes the level. The sorted view is rebuilt only when a removal happened
// or an insert beats the currently published best price; interior inserts
// leave the view as of the last rebuild.
func (b *Book) ApplyDelta(bids, asks []domain.Level) {
	start := time.Now()
	bestBid, bestAsk := b.bbo.load()

	var bidChanged, askChanged bool
	for _, l := range bids {
		if l.Quantity <= 0 {
			b.bids.remove(l.Price)
			bidChanged = true
			continue
		}
		b.bids.put(l.Price, l.Quantity)
		if l.Price > bestBid {
			bidChanged = true
		}
	}
	for _, l := range asks {
		if l.Quantity <= 0 {
			b.asks.remove(l.Price)
			askChanged = true
			continue
		}
		b.asks.put(l.Price, l.Quantity)
		if l.Price < bestAsk {
			askChanged = true
		}
	}

	rebuilt := bidChanged || askChanged
	if rebuilt {
		b.rebuild()
	}

	elapsed := time.Since(start)
	if elapsed > b.slowDelta {
		b.logger.Warn("slow delta processing",
			slog.Duration("elapsed", elapsed),
			slog.Bool("rebuilt", rebuilt),
		)
	}
	if b.observer != nil {
		b.observer.ObserveDelta(b.symbol, elapsed, rebuilt)
	}

	b.lastUpdate.Store(b.now().UnixMilli())
}

func (b *Book) rebuild() {
	start := time.Now()
	b.rebuildMu.Lock()
	defer b.rebuildMu.Unlock()

	ts := b.now().UnixMilli()
	bids := b.bids.collect(ts)
	asks := b.asks.collect(ts)
	slices.SortFunc(bids, func(x, y domain.PriceLevel) int { return cmpPrice(y.Price, x.Price) })
	slices.SortFunc(asks, func(x, y domain.PriceLevel) int { return cmpPrice(x.Price, y.Price) })

	b.bbo.publish(bids, asks)
	b.view.swap(bids, asks)

	if b.observer != nil {
		b.observer.ObserveRebuild(b.symbol, time.Since(start))
	}
}

func cmpPrice(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// BestBidAsk returns the published best prices without locking. An empty bid
// side reads as NoBid, an empty ask side as NoAsk.
func (b *Book) BestBidAsk() (bid, ask float64) {
	return b.bbo.load()
}

// Ready reports whether both sides have a published best price.
func (b *Book) Ready() bool {
	bid, ask := b.bbo.load()
	return bid != NoBid && !math.IsInf(ask, 1)
}

// MidPrice is the average of the best bid and ask. It is only meaningful
// when Ready reports true.
func (b *Book) MidPrice() float64 {
	bid, ask := b.bbo.load()
	return (bid + ask) / 2
}

// SpreadPct returns (ask-bid)/mid, or 1.0 while the book is not ready.
func (b *Book) SpreadPct() float64 {
	bid, ask := b.bbo.load()
	if bid == NoBid || math.IsInf(ask, 1) {
		return 1.0
	}
	return (ask - bid) / ((bid + ask) / 2)
}

// Imbalance returns (bidVol-askVol)/(bidVol+askVol) over the top depth levels
// of the sorted view, or 0 when both volumes are zero.
func (b *Book) Imbalance(depth int) float64 {
	bidVol, askVol := b.view.volumes(depth)
	if bidVol+askVol == 0 {
		return 0
	}
	return (bidVol - askVol) / (bidVol + askVol)
}

// LiquidityDepth returns the combined quantity of the top depth levels.
func (b *Book) LiquidityDepth(depth int) float64 {
	bidVol, askVol := b.view.volumes(depth)
	return bidVol + askVol
}

// Levels returns copies of the top depth sorted levels per side. depth <= 0
// returns every level.
func (b *Book) Levels(depth int) (bids, asks []domain.PriceLevel) {
	return b.view.top(depth)
}

// Depth returns the number of levels in the sorted view per side.
func (b *Book) Depth() (bids, asks int) {
	return b.view.depths()
}

// LatencyMs returns the milliseconds elapsed since the last applied update.
func (b *Book) LatencyMs() int64 {
	d := b.now().UnixMilli() - b.lastUpdate.Load()
	if d < 0 {
		return 0
	}
	return d
}

// LastUpdate returns the time of the last applied update, or the zero time.
func (b *Book) LastUpdate() time.Time {
	ms := b.lastUpdate.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// UpdateCount returns the number of snapshots applied. Deltas are not counted.
func (b *Book) UpdateCount() uint64 {
	return b.updates.Load()
}
