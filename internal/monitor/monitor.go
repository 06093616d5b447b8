// Package monitor drives the periodic read side of one order book: every
// cycle it advances the flow metrics and the validator, publishes a
// domain.BookStats to telemetry and sinks, and every summary interval it logs
// the book and raises threshold alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
	"github.com/alanyoungcy/orderflowbot/internal/flowmetrics"
	"github.com/alanyoungcy/orderflowbot/internal/notify"
	"github.com/alanyoungcy/orderflowbot/internal/validation"
)

const (
	defaultCycleInterval   = time.Second
	defaultSummaryInterval = 5 * time.Second
	defaultLiquidityDepth  = 10
	defaultWhaleMaxAge     = time.Minute
	defaultSinkTimeout     = 2 * time.Second
	notifyQueue            = 16
)

// Book is the read side of an order book the monitor samples.
type Book interface {
	validation.BookReader
	Ready() bool
	MidPrice() float64
	UpdateCount() uint64
}

// Reporter receives every cycle's stats, typically the Prometheus metrics.
type Reporter interface {
	ObserveStats(domain.BookStats)
	SinkFailed(sink string)
}

// Config configures a Monitor.
type Config struct {
	Symbol string
	RunID  string

	CycleInterval   time.Duration
	SummaryInterval time.Duration
	// NotifySummaryInterval sends the summary through the notifier; zero
	// disables it.
	NotifySummaryInterval time.Duration

	DepthLevels    []int
	LiquidityDepth int
	WhaleThreshold float64
	MinWhaleSize   float64
	WhaleMaxAge    time.Duration
	DeltaWindows   []time.Duration

	// Alert thresholds checked at every summary.
	MaxSpreadPct float64
	MaxLatency   time.Duration
	MinLiquidity float64

	SinkTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.CycleInterval <= 0 {
		c.CycleInterval = defaultCycleInterval
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = defaultSummaryInterval
	}
	if c.LiquidityDepth <= 0 {
		c.LiquidityDepth = defaultLiquidityDepth
	}
	if c.WhaleMaxAge <= 0 {
		c.WhaleMaxAge = defaultWhaleMaxAge
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if len(c.DepthLevels) == 0 {
		c.DepthLevels = []int{5, 10, 20}
	}
	if c.WhaleThreshold <= 0 {
		c.WhaleThreshold = 3.0
	}
}

type note struct {
	key, event, title, message string
}

// Monitor owns the flow metrics engine and the validator for one book. Cycle
// and Summary must be called from a single goroutine; Latest is safe from
// any goroutine.
type Monitor struct {
	cfg       Config
	book      Book
	engine    *flowmetrics.Engine
	validator *validation.Validator
	reporter  Reporter
	sinks     []domain.StatsSink
	notifier  *notify.Notifier
	throttle  *notify.Throttle
	logger    *slog.Logger
	now       func() time.Time

	depths    []int
	maxDepth  int
	lastValid string
	notes     chan note
	latest    atomic.Pointer[domain.BookStats]
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithReporter sets the telemetry reporter.
func WithReporter(r Reporter) Option { return func(m *Monitor) { m.reporter = r } }

// WithSinks adds stats sinks, written in order every cycle.
func WithSinks(sinks ...domain.StatsSink) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, sinks...) }
}

// WithNotifier sends validation changes, alerts and summaries through n,
// throttled by t when t is non-nil.
func WithNotifier(n *notify.Notifier, t *notify.Throttle) Option {
	return func(m *Monitor) {
		m.notifier = n
		m.throttle = t
	}
}

// WithClock replaces the wall clock used for stats timestamps.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// New creates a Monitor over book.
func New(cfg Config, book Book, engine *flowmetrics.Engine, validator *validation.Validator, logger *slog.Logger, opts ...Option) *Monitor {
	cfg.applyDefaults()

	depths := append(slices.Clone(cfg.DepthLevels), cfg.LiquidityDepth)
	slices.Sort(depths)
	depths = slices.Compact(depths)

	m := &Monitor{
		cfg:       cfg,
		book:      book,
		engine:    engine,
		validator: validator,
		logger:    logger.With(slog.String("component", "monitor"), slog.String("symbol", cfg.Symbol)),
		now:       time.Now,
		depths:    depths,
		maxDepth:  depths[len(depths)-1],
		notes:     make(chan note, notifyQueue),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Latest returns the stats of the most recent cycle.
func (m *Monitor) Latest() (domain.BookStats, bool) {
	p := m.latest.Load()
	if p == nil {
		return domain.BookStats{}, false
	}
	return *p, true
}

// Run cycles and summarises until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	go m.deliver(ctx)

	cycle := time.NewTicker(m.cfg.CycleInterval)
	defer cycle.Stop()
	summary := time.NewTicker(m.cfg.SummaryInterval)
	defer summary.Stop()

	var notifySummary <-chan time.Time
	if m.cfg.NotifySummaryInterval > 0 && m.notifier.Enabled() {
		t := time.NewTicker(m.cfg.NotifySummaryInterval)
		defer t.Stop()
		notifySummary = t.C
	}

	m.logger.InfoContext(ctx, "monitor started",
		slog.Duration("cycle", m.cfg.CycleInterval),
		slog.Duration("summary", m.cfg.SummaryInterval),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cycle.C:
			m.Cycle(ctx)
		case <-summary.C:
			m.Summary(ctx)
		case <-notifySummary:
			if s, ok := m.Latest(); ok && s.Ready() {
				title, msg := notify.SummaryMessage(s, m.cfg.LiquidityDepth)
				m.enqueue(note{key: m.cfg.Symbol, event: notify.EventSummary, title: title, message: msg})
			}
		}
	}
}

// Cycle samples the book once, updates every metric and the validator, and
// publishes the result.
func (m *Monitor) Cycle(ctx context.Context) domain.BookStats {
	stats := m.sample()

	m.latest.Store(&stats)
	if m.reporter != nil {
		m.reporter.ObserveStats(stats)
	}
	m.writeSinks(ctx, stats)
	m.checkTransition(ctx, stats)
	return stats
}

func (m *Monitor) sample() domain.BookStats {
	bid, ask := m.book.BestBidAsk()
	ready := m.book.Ready()

	bids, asks := m.book.Levels(m.maxDepth)
	bidLevels, askLevels := domain.Levels(bids), domain.Levels(asks)

	m.engine.AddSnapshot(domain.Volume(bids), domain.Volume(asks))
	m.engine.UpdateAvgOrderSize(slices.Concat(bidLevels, askLevels))
	whales := m.engine.DetectWhales(bidLevels, askLevels, m.cfg.WhaleThreshold)
	imbalance := m.engine.MultiLevelImbalance(bidLevels, askLevels, m.depths)

	var bidPressure, askPressure float64
	if ready {
		bidPressure, askPressure = m.engine.Pressure(bid, ask)
	}
	result := m.validator.Validate(m.book)

	liquidity := make(map[int]float64, len(m.depths))
	for _, d := range m.depths {
		liquidity[d] = m.book.LiquidityDepth(d)
	}
	deltas := make(map[string]float64, len(m.cfg.DeltaWindows))
	for _, w := range m.cfg.DeltaWindows {
		deltas[w.String()] = m.engine.VolumeDelta(w)
	}
	significant := 0
	for _, w := range whales {
		if w.Size >= m.cfg.MinWhaleSize {
			significant++
		}
	}

	stats := domain.BookStats{
		RunID:            m.cfg.RunID,
		Symbol:           m.cfg.Symbol,
		Time:             m.now().UTC(),
		BestBid:          bid,
		SpreadPct:        m.book.SpreadPct(),
		LatencyMs:        m.book.LatencyMs(),
		Updates:          m.book.UpdateCount(),
		Imbalance:        imbalance,
		Liquidity:        liquidity,
		VolumeDeltas:     deltas,
		AvgOrderSize:     m.engine.AvgOrderSize(),
		BidPressure:      bidPressure,
		AskPressure:      askPressure,
		PressureScore:    m.engine.PressureScore(),
		WhaleScore:       m.engine.WhaleScore(m.cfg.WhaleMaxAge),
		Whales:           significant,
		DepthConsistency: m.engine.DepthConsistency(),
		Validation:       result.String(),
		Tradable:         ready && result.IsValid(),
		Calibrated:       m.validator.IsCalibrated(),
	}
	if !math.IsInf(ask, 1) {
		stats.BestAsk = ask
	}
	if ready {
		stats.MidPrice = m.book.MidPrice()
	}
	return stats
}

func (m *Monitor) writeSinks(ctx context.Context, stats domain.BookStats) {
	for _, s := range m.sinks {
		sctx, cancel := context.WithTimeout(ctx, m.cfg.SinkTimeout)
		err := s.Write(sctx, stats)
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.WarnContext(ctx, "stats sink failed",
			slog.String("sink", s.Name()),
			slog.String("error", err.Error()),
		)
		if m.reporter != nil {
			m.reporter.SinkFailed(s.Name())
		}
	}
}

func (m *Monitor) checkTransition(ctx context.Context, stats domain.BookStats) {
	prev := m.lastValid
	m.lastValid = stats.Validation
	if prev == "" || prev == stats.Validation {
		return
	}
	m.logger.InfoContext(ctx, "validation changed",
		slog.String("from", prev),
		slog.String("to", stats.Validation),
	)
	title, msg := notify.ValidationMessage(m.cfg.Symbol, prev, stats.Validation, stats)
	m.enqueue(note{key: m.cfg.Symbol, event: notify.EventValidation, title: title, message: msg})
}

// Summary logs the latest stats and returns the threshold alerts raised. It
// does nothing until both sides of the book are populated.
func (m *Monitor) Summary(ctx context.Context) []string {
	stats, ok := m.Latest()
	if !ok || !stats.Ready() {
		return nil
	}
	liquidity := stats.Liquidity[m.cfg.LiquidityDepth]
	m.logger.InfoContext(ctx, "book summary",
		slog.Float64("bid", stats.BestBid),
		slog.Float64("ask", stats.BestAsk),
		slog.Float64("mid", stats.MidPrice),
		slog.String("spread", fmt.Sprintf("%.4f%%", stats.SpreadPct*100)),
		slog.Float64("imbalance", stats.Imbalance[m.cfg.LiquidityDepth]),
		slog.Float64("liquidity", liquidity),
		slog.Int64("latency_ms", stats.LatencyMs),
		slog.Uint64("updates", stats.Updates),
		slog.String("validation", stats.Validation),
		slog.Float64("whale_score", stats.WhaleScore),
		slog.Float64("pressure_score", stats.PressureScore),
	)

	alerts := m.alerts(stats, liquidity)
	for _, a := range alerts {
		m.logger.WarnContext(ctx, a)
	}
	if len(alerts) > 0 {
		title, msg := notify.AlertMessage(m.cfg.Symbol, alerts)
		m.enqueue(note{key: m.cfg.Symbol, event: notify.EventAlert, title: title, message: msg})
	}
	return alerts
}

func (m *Monitor) alerts(stats domain.BookStats, liquidity float64) []string {
	var alerts []string
	if m.cfg.MaxSpreadPct > 0 && stats.SpreadPct > m.cfg.MaxSpreadPct {
		alerts = append(alerts, fmt.Sprintf("wide spread detected: %.4f%%", stats.SpreadPct*100))
	}
	if m.cfg.MaxLatency > 0 && time.Duration(stats.LatencyMs)*time.Millisecond > m.cfg.MaxLatency {
		alerts = append(alerts, fmt.Sprintf("high latency detected: %dms", stats.LatencyMs))
	}
	if m.cfg.MinLiquidity > 0 && liquidity < m.cfg.MinLiquidity {
		alerts = append(alerts, fmt.Sprintf("low liquidity detected: %.2f", liquidity))
	}
	return alerts
}

func (m *Monitor) enqueue(n note) {
	if !m.notifier.Enabled() {
		return
	}
	select {
	case m.notes <- n:
	default:
		m.logger.Warn("notification queue full, dropping", slog.String("event", n.event))
	}
}

// deliver sends queued notifications off the cycle goroutine.
func (m *Monitor) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-m.notes:
			var err error
			if m.throttle != nil {
				err = m.throttle.Notify(ctx, m.notifier, n.key, n.event, n.title, n.message)
			} else {
				err = m.notifier.Notify(ctx, n.event, n.title, n.message)
			}
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrCooldown):
				m.logger.DebugContext(ctx, "notification throttled", slog.String("event", n.event))
			default:
				m.logger.WarnContext(ctx, "notification failed",
					slog.String("event", n.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
