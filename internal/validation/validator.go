// Package validation classifies whether an order book is currently fit to
// trade on. Spread and liquidity are judged against a rolling calibration of
// the book's own recent history.
package validation

import (
	"math"
	"slices"
	"time"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

const (
	historySize     = 100
	minCalibration  = 10
	liquidityLevels = 10
)

// Result is the outcome of one validation. The first failing check wins.
type Result int

const (
	Valid Result = iota
	WideSpread
	LowLiquidity
	StaleData
	PriceAnomaly
	InsufficientDepth
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "Valid"
	case WideSpread:
		return "Wide Spread"
	case LowLiquidity:
		return "Low Liquidity"
	case StaleData:
		return "Stale Data"
	case PriceAnomaly:
		return "Price Anomaly"
	case InsufficientDepth:
		return "Insufficient Depth"
	default:
		return "Unknown"
	}
}

// IsValid reports whether trading may proceed.
func (r Result) IsValid() bool { return r == Valid }

// Config tunes the validator thresholds.
type Config struct {
	Enabled                bool
	MaxSpreadMultiplier    float64
	MinLiquidityMultiplier float64
	MaxDataAge             time.Duration
	MinDepthLevels         int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		MaxSpreadMultiplier:    3.0,
		MinLiquidityMultiplier: 0.25,
		MaxDataAge:             5 * time.Second,
		MinDepthLevels:         5,
	}
}

// BookReader is the read side of an order book the validator needs.
type BookReader interface {
	BestBidAsk() (bid, ask float64)
	Levels(depth int) (bids, asks []domain.PriceLevel)
	LatencyMs() int64
	SpreadPct() float64
	LiquidityDepth(depth int) float64
}

// Range is a [Low, High] band taken from the 10th and 90th percentiles.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type measurement struct {
	timestampMs int64
	spreadPct   float64
	liquidity   float64
}

// Validator holds calibration history. It is owned by one goroutine and is
// not safe for concurrent use.
type Validator struct {
	cfg          Config
	now          func() time.Time
	measurements []measurement
	spread       Range
	liquidity    Range
}

// New creates a validator with an empty calibration.
func New(cfg Config) *Validator {
	return &Validator{
		cfg:          cfg,
		now:          time.Now,
		measurements: make([]measurement, 0, historySize),
		spread:       Range{Low: 0, High: 1},
		liquidity:    Range{Low: 0, High: 100},
	}
}

// Validate classifies book. Only a Valid result adds to the calibration.
func (v *Validator) Validate(book BookReader) Result {
	if !v.cfg.Enabled {
		return Valid
	}

	bid, ask := book.BestBidAsk()
	bidReady := bid != 0
	askReady := ask != 0 && !math.IsInf(ask, 1) && !math.IsNaN(ask)

	if bidReady && askReady && bid >= ask {
		return PriceAnomaly
	}
	if !bidReady || !askReady {
		return InsufficientDepth
	}
	bids, asks := book.Levels(v.cfg.MinDepthLevels)
	if len(bids) < v.cfg.MinDepthLevels || len(asks) < v.cfg.MinDepthLevels {
		return InsufficientDepth
	}
	if time.Duration(book.LatencyMs())*time.Millisecond > v.cfg.MaxDataAge {
		return StaleData
	}

	spread := book.SpreadPct()
	liquidity := book.LiquidityDepth(liquidityLevels)
	if v.IsCalibrated() {
		if spread > v.spread.High*v.cfg.MaxSpreadMultiplier {
			return WideSpread
		}
		if liquidity < v.liquidity.Low*v.cfg.MinLiquidityMultiplier {
			return LowLiquidity
		}
	}

	v.record(spread, liquidity)
	return Valid
}

func (v *Validator) record(spread, liquidity float64) {
	if len(v.measurements) == historySize {
		copy(v.measurements, v.measurements[1:])
		v.measurements = v.measurements[:historySize-1]
	}
	v.measurements = append(v.measurements, measurement{
		timestampMs: v.now().UnixMilli(),
		spreadPct:   spread,
		liquidity:   liquidity,
	})

	spreads := make([]float64, len(v.measurements))
	liquidities := make([]float64, len(v.measurements))
	for i, m := range v.measurements {
		spreads[i] = m.spreadPct
		liquidities[i] = m.liquidity
	}
	v.spread = percentileRange(spreads)
	v.liquidity = percentileRange(liquidities)
}

// percentileRange sorts values in place and returns the entries at
// floor(n*0.10) and floor(n*0.90), clamped to the last index.
func percentileRange(values []float64) Range {
	slices.Sort(values)
	n := len(values)
	lo := min(int(float64(n)*0.10), n-1)
	hi := min(int(float64(n)*0.90), n-1)
	return Range{Low: values[lo], High: values[hi]}
}

// NormalRanges returns the calibrated spread and liquidity bands.
func (v *Validator) NormalRanges() (spread, liquidity Range) {
	return v.spread, v.liquidity
}

// IsCalibrated reports whether enough history exists to judge spread and
// liquidity.
func (v *Validator) IsCalibrated() bool {
	return len(v.measurements) >= minCalibration
}

// Measurements returns the number of calibration samples held.
func (v *Validator) Measurements() int { return len(v.measurements) }
