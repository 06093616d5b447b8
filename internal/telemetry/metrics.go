// Package telemetry exposes engine, feed and validation metrics to
// Prometheus.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

const namespace = "orderflow"

// microBuckets spans 5µs to ~10ms.
var microBuckets = prometheus.ExponentialBuckets(5e-6, 2, 12)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	snapshotLatency *prometheus.HistogramVec
	deltaLatency    *prometheus.HistogramVec
	rebuildLatency  *prometheus.HistogramVec
	snapshots       *prometheus.CounterVec
	deltas          *prometheus.CounterVec

	validations *prometheus.CounterVec
	sinkErrors  *prometheus.CounterVec

	bestBid          *prometheus.GaugeVec
	bestAsk          *prometheus.GaugeVec
	spreadPct        *prometheus.GaugeVec
	latencyMs        *prometheus.GaugeVec
	imbalance        *prometheus.GaugeVec
	liquidity        *prometheus.GaugeVec
	whaleScore       *prometheus.GaugeVec
	pressureScore    *prometheus.GaugeVec
	depthConsistency *prometheus.GaugeVec
	tradable         *prometheus.GaugeVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		snapshotLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_apply_seconds",
			Help:      "Time to apply a full order book snapshot.",
			Buckets:   microBuckets,
		}, []string{"symbol"}),
		deltaLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delta_apply_seconds",
			Help:      "Time to apply an order book delta.",
			Buckets:   microBuckets,
		}, []string{"symbol", "rebuilt"}),
		rebuildLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sorted_view_rebuild_seconds",
			Help:      "Time to rebuild the sorted view and best prices.",
			Buckets:   microBuckets,
		}, []string{"symbol"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Order book snapshots applied.",
		}, []string{"symbol"}),
		deltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_total",
			Help:      "Order book deltas applied.",
		}, []string{"symbol"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validator outcomes by result.",
		}, []string{"symbol", "result"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed stats deliveries by sink.",
		}, []string{"sink"}),
		bestBid:          gauge("best_bid", "Published best bid.", "symbol"),
		bestAsk:          gauge("best_ask", "Published best ask, 0 while the ask side is empty.", "symbol"),
		spreadPct:        gauge("spread_ratio", "Spread over mid price.", "symbol"),
		latencyMs:        gauge("data_age_milliseconds", "Time since the last applied update.", "symbol"),
		imbalance:        gauge("imbalance", "Volume imbalance over the top N levels.", "symbol", "depth"),
		liquidity:        gauge("liquidity", "Combined quantity of the top N levels.", "symbol", "depth"),
		whaleScore:       gauge("whale_score", "Recent large order activity, 0 to 100.", "symbol"),
		pressureScore:    gauge("pressure_score", "Bid minus ask price velocity, -100 to 100.", "symbol"),
		depthConsistency: gauge("depth_consistency", "Agreement of imbalance across depths, 0 to 1.", "symbol"),
		tradable:         gauge("tradable", "1 when the last validation passed.", "symbol"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.snapshotLatency, m.deltaLatency, m.rebuildLatency,
		m.snapshots, m.deltas, m.validations, m.sinkErrors,
		m.bestBid, m.bestAsk, m.spreadPct, m.latencyMs,
		m.imbalance, m.liquidity, m.whaleScore, m.pressureScore,
		m.depthConsistency, m.tradable,
	)
	return m
}

func gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSnapshot records a snapshot apply.
func (m *Metrics) ObserveSnapshot(symbol string, elapsed time.Duration) {
	m.snapshotLatency.WithLabelValues(symbol).Observe(elapsed.Seconds())
	m.snapshots.WithLabelValues(symbol).Inc()
}

// ObserveDelta records a delta apply.
func (m *Metrics) ObserveDelta(symbol string, elapsed time.Duration, rebuilt bool) {
	m.deltaLatency.WithLabelValues(symbol, strconv.FormatBool(rebuilt)).Observe(elapsed.Seconds())
	m.deltas.WithLabelValues(symbol).Inc()
}

// ObserveRebuild records a sorted view rebuild.
func (m *Metrics) ObserveRebuild(symbol string, elapsed time.Duration) {
	m.rebuildLatency.WithLabelValues(symbol).Observe(elapsed.Seconds())
}

// ObserveStats updates gauges from one monitor cycle.
func (m *Metrics) ObserveStats(s domain.BookStats) {
	m.validations.WithLabelValues(s.Symbol, s.Validation).Inc()
	m.bestBid.WithLabelValues(s.Symbol).Set(s.BestBid)
	m.bestAsk.WithLabelValues(s.Symbol).Set(s.BestAsk)
	m.spreadPct.WithLabelValues(s.Symbol).Set(s.SpreadPct)
	m.latencyMs.WithLabelValues(s.Symbol).Set(float64(s.LatencyMs))
	for depth, v := range s.Imbalance {
		m.imbalance.WithLabelValues(s.Symbol, strconv.Itoa(depth)).Set(v)
	}
	for depth, v := range s.Liquidity {
		m.liquidity.WithLabelValues(s.Symbol, strconv.Itoa(depth)).Set(v)
	}
	m.whaleScore.WithLabelValues(s.Symbol).Set(s.WhaleScore)
	m.pressureScore.WithLabelValues(s.Symbol).Set(s.PressureScore)
	m.depthConsistency.WithLabelValues(s.Symbol).Set(s.DepthConsistency)
	if s.Tradable {
		m.tradable.WithLabelValues(s.Symbol).Set(1)
	} else {
		m.tradable.WithLabelValues(s.Symbol).Set(0)
	}
}

// SinkFailed counts a failed delivery to the named sink.
func (m *Metrics) SinkFailed(sink string) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}
