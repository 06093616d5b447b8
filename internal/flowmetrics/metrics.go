// Package flowmetrics derives order-flow signals from successive views of an
// order book: volume deltas, large-order detection, price pressure and the
// consistency of imbalance across depths.
//
// An Engine is owned by a single goroutine and is not safe for concurrent use.
package flowmetrics

import (
	"math"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

const (
	volumeHistorySize = 60
	largeOrderHistory = 20
	// whaleBaseline is the size multiplier that contributes nothing to the
	// whale score.
	whaleBaseline  = 3.0
	consistencyK   = 2.0
	pressureScale  = 100.0
	maxScore       = 100.0
	whaleScoreUnit = 10.0
)

// VolumeSnapshot records book volume at one instant.
type VolumeSnapshot struct {
	TimestampMs int64
	BidVolume   float64
	AskVolume   float64
	TotalVolume float64
}

// LargeOrder is a level whose quantity exceeded the whale threshold.
type LargeOrder struct {
	Price          float64     `json:"price"`
	Size           float64     `json:"size"`
	Side           domain.Side `json:"side"`
	TimestampMs    int64       `json:"ts"`
	SizeMultiplier float64     `json:"size_multiplier"`
}

// Engine holds the rolling state behind every flow metric.
type Engine struct {
	now func() time.Time

	history          *ring[VolumeSnapshot]
	largeOrders      *ring[LargeOrder]
	imbalanceByDepth map[int]float64
	avgOrderSize     float64

	bidPressure float64
	askPressure float64
	prevBid     float64
	prevAsk     float64
	prevMs      int64
	hasPrev     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used to stamp observations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an Engine with empty history.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:              time.Now,
		history:          newRing[VolumeSnapshot](volumeHistorySize),
		largeOrders:      newRing[LargeOrder](largeOrderHistory),
		imbalanceByDepth: make(map[int]float64),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) nowMs() int64 { return e.now().UnixMilli() }

// AddSnapshot records the current bid and ask volume. The oldest entry is
// dropped once 60 are held.
func (e *Engine) AddSnapshot(bidVolume, askVolume float64) {
	e.history.push(VolumeSnapshot{
		TimestampMs: e.nowMs(),
		BidVolume:   bidVolume,
		AskVolume:   askVolume,
		TotalVolume: bidVolume + askVolume,
	})
}

// HistoryLen returns the number of volume snapshots held.
func (e *Engine) HistoryLen() int { return e.history.len() }

// windowBounds returns the newest snapshot and the oldest one inside the
// window, falling back to the oldest held when none is.
func (e *Engine) windowBounds(window time.Duration) (oldest, newest VolumeSnapshot, ok bool) {
	if e.history.len() < 2 {
		return VolumeSnapshot{}, VolumeSnapshot{}, false
	}
	cutoff := e.nowMs() - window.Milliseconds()
	newest = e.history.at(e.history.len() - 1)
	oldest = e.history.at(0)
	for i := 0; i < e.history.len(); i++ {
		if s := e.history.at(i); s.TimestampMs >= cutoff {
			oldest = s
			break
		}
	}
	return oldest, newest, true
}

// VolumeDelta returns the change of total volume per second across window.
func (e *Engine) VolumeDelta(window time.Duration) float64 {
	oldest, newest, ok := e.windowBounds(window)
	if !ok {
		return 0
	}
	dt := float64(newest.TimestampMs-oldest.TimestampMs) / 1000
	if dt <= 0 {
		return 0
	}
	return (newest.TotalVolume - oldest.TotalVolume) / dt
}

// SideVolumeDeltas is VolumeDelta split into the bid and ask sides.
func (e *Engine) SideVolumeDeltas(window time.Duration) (bid, ask float64) {
	oldest, newest, ok := e.windowBounds(window)
	if !ok {
		return 0, 0
	}
	dt := float64(newest.TimestampMs-oldest.TimestampMs) / 1000
	if dt <= 0 {
		return 0, 0
	}
	return (newest.BidVolume - oldest.BidVolume) / dt, (newest.AskVolume - oldest.AskVolume) / dt
}

// VolumeDeltas evaluates VolumeDelta for every window.
func (e *Engine) VolumeDeltas(windows []time.Duration) map[time.Duration]float64 {
	out := make(map[time.Duration]float64, len(windows))
	for _, w := range windows {
		out[w] = e.VolumeDelta(w)
	}
	return out
}

// UpdateAvgOrderSize sets the average order size to the mean quantity of
// levels. Each call replaces the previous value; an empty slice is ignored.
func (e *Engine) UpdateAvgOrderSize(levels []domain.Level) {
	if len(levels) == 0 {
		return
	}
	var total float64
	for _, l := range levels {
		total += l.Quantity
	}
	e.avgOrderSize = total / float64(len(levels))
}

// AvgOrderSize returns the last computed average order size.
func (e *Engine) AvgOrderSize() float64 { return e.avgOrderSize }

// DetectWhales returns every level whose quantity exceeds
// AvgOrderSize*thresholdMultiplier, bids first. Detections are also kept for
// WhaleScore. Nothing is detected before an average is known.
func (e *Engine) DetectWhales(bids, asks []domain.Level, thresholdMultiplier float64) []LargeOrder {
	if e.avgOrderSize == 0 {
		return nil
	}
	ts := e.nowMs()
	threshold := e.avgOrderSize * thresholdMultiplier

	var whales []LargeOrder
	scan := func(levels []domain.Level, side domain.Side) {
		for _, l := range levels {
			if l.Quantity <= threshold {
				continue
			}
			w := LargeOrder{
				Price:          l.Price,
				Size:           l.Quantity,
				Side:           side,
				TimestampMs:    ts,
				SizeMultiplier: l.Quantity / e.avgOrderSize,
			}
			whales = append(whales, w)
			e.largeOrders.push(w)
		}
	}
	scan(bids, domain.SideBid)
	scan(asks, domain.SideAsk)
	return whales
}

// LargeOrders returns the retained detections, oldest first.
func (e *Engine) LargeOrders() []LargeOrder { return e.largeOrders.items() }

// MultiLevelImbalance computes the volume imbalance over the top d levels for
// each d in depths and keeps the result for DepthConsistency.
func (e *Engine) MultiLevelImbalance(bids, asks []domain.Level, depths []int) map[int]float64 {
	out := make(map[int]float64, len(depths))
	for _, d := range depths {
		bidVol := sumTop(bids, d)
		askVol := sumTop(asks, d)
		total := bidVol + askVol
		if total > 0 {
			out[d] = (bidVol - askVol) / total
		} else {
			out[d] = 0
		}
	}
	e.imbalanceByDepth = out
	return copyMap(out)
}

// ImbalanceByDepth returns a copy of the last multi-level imbalance.
func (e *Engine) ImbalanceByDepth() map[int]float64 { return copyMap(e.imbalanceByDepth) }

func sumTop(levels []domain.Level, depth int) float64 {
	if depth < len(levels) {
		levels = levels[:max(depth, 0)]
	}
	var v float64
	for _, l := range levels {
		v += l.Quantity
	}
	return v
}

func copyMap(m map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Pressure returns the per-second velocity of the best bid and best ask since
// the previous call. The first call only records a baseline and returns (0, 0).
// Calls within the same millisecond return the previous velocities unchanged.
func (e *Engine) Pressure(bestBid, bestAsk float64) (bid, ask float64) {
	ts := e.nowMs()
	if !e.hasPrev {
		e.prevBid, e.prevAsk, e.prevMs, e.hasPrev = bestBid, bestAsk, ts, true
		return 0, 0
	}
	dt := float64(ts-e.prevMs) / 1000
	if dt > 0 {
		e.bidPressure = (bestBid - e.prevBid) / dt
		e.askPressure = (bestAsk - e.prevAsk) / dt
		e.prevBid, e.prevAsk, e.prevMs = bestBid, bestAsk, ts
	}
	return e.bidPressure, e.askPressure
}

// DepthConsistency maps the spread of the last multi-level imbalances to
// [0, 1] as exp(-2*stddev). Fewer than two depths yields 0.
func (e *Engine) DepthConsistency() float64 {
	n := len(e.imbalanceByDepth)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, v := range e.imbalanceByDepth {
		mean += v
	}
	mean /= float64(n)
	var variance float64
	for _, v := range e.imbalanceByDepth {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)
	return clamp(math.Exp(-consistencyK*math.Sqrt(variance)), 0, 1)
}

// WhaleScore scores detections younger than maxAge in [0, 100]. Each whale
// contributes (1-age/maxAge)*max(multiplier-3, 0)*10.
func (e *Engine) WhaleScore(maxAge time.Duration) float64 {
	maxAgeMs := maxAge.Milliseconds()
	if maxAgeMs <= 0 {
		return 0
	}
	now := e.nowMs()
	cutoff := now - maxAgeMs

	var score float64
	for _, w := range e.largeOrders.items() {
		if w.TimestampMs < cutoff {
			continue
		}
		age := float64(now-w.TimestampMs) / float64(maxAgeMs)
		score += (1 - age) * math.Max(w.SizeMultiplier-whaleBaseline, 0) * whaleScoreUnit
	}
	return math.Min(score, maxScore)
}

// PressureScore maps the bid/ask pressure difference to [-100, 100].
// Positive values mean the bid is rising faster than the ask.
func (e *Engine) PressureScore() float64 {
	return clamp((e.bidPressure-e.askPressure)*pressureScale, -maxScore, maxScore)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
