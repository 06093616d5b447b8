package validation

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
	"github.com/alanyoungcy/orderflowbot/internal/orderbook"
)

func lv(price, qty float64) domain.Level {
	return domain.Level{Price: price, Quantity: qty}
}

func newBook(now func() time.Time) *orderbook.Book {
	return orderbook.New("BTCUSDT", orderbook.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    now,
	})
}

func fiveLevelBook() *orderbook.Book {
	b := newBook(nil)
	b.ApplySnapshot(
		[]domain.Level{lv(50000, 1), lv(49999, 1), lv(49998, 1), lv(49997, 1), lv(49996, 1)},
		[]domain.Level{lv(50001, 1), lv(50002, 1), lv(50003, 1), lv(50004, 1), lv(50005, 1)},
	)
	return b
}

// fakeBook is a fully ready book whose spread and liquidity are set directly.
type fakeBook struct {
	spread    float64
	liquidity float64
	latencyMs int64
}

func (f *fakeBook) BestBidAsk() (float64, float64) { return 100, 100.1 }

func (f *fakeBook) Levels(depth int) ([]domain.PriceLevel, []domain.PriceLevel) {
	return make([]domain.PriceLevel, depth), make([]domain.PriceLevel, depth)
}

func (f *fakeBook) LatencyMs() int64 { return f.latencyMs }

func (f *fakeBook) SpreadPct() float64 { return f.spread }

func (f *fakeBook) LiquidityDepth(int) float64 { return f.liquidity }

func calibrate(t *testing.T, v *Validator, f *fakeBook, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.Equal(t, Valid, v.Validate(f))
	}
}

func TestValidBook(t *testing.T) {
	v := New(DefaultConfig())
	assert.Equal(t, Valid, v.Validate(fiveLevelBook()))
	assert.Equal(t, 1, v.Measurements())
}

func TestCrossedBookWinsOverThinDepth(t *testing.T) {
	v := New(DefaultConfig())
	b := newBook(nil)
	b.ApplySnapshot([]domain.Level{lv(50002, 1)}, []domain.Level{lv(50001, 1)})

	assert.Equal(t, PriceAnomaly, v.Validate(b))
	assert.Zero(t, v.Measurements())
}

func TestInsufficientDepth(t *testing.T) {
	v := New(DefaultConfig())
	b := newBook(nil)
	b.ApplySnapshot(
		[]domain.Level{lv(50000, 1), lv(49999, 1)},
		[]domain.Level{lv(50001, 1), lv(50002, 1)},
	)
	assert.Equal(t, InsufficientDepth, v.Validate(b))
}

func TestUninitializedBook(t *testing.T) {
	v := New(DefaultConfig())
	assert.Equal(t, InsufficientDepth, v.Validate(newBook(nil)))

	oneSided := newBook(nil)
	oneSided.ApplySnapshot([]domain.Level{lv(1, 1)}, nil)
	assert.Equal(t, InsufficientDepth, v.Validate(oneSided))
}

func TestStaleData(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	b := newBook(func() time.Time { return now })
	b.ApplySnapshot(
		[]domain.Level{lv(50000, 1), lv(49999, 1), lv(49998, 1), lv(49997, 1), lv(49996, 1)},
		[]domain.Level{lv(50001, 1), lv(50002, 1), lv(50003, 1), lv(50004, 1), lv(50005, 1)},
	)
	v := New(DefaultConfig())

	now = now.Add(5 * time.Second)
	assert.Equal(t, Valid, v.Validate(b), "exactly the max age is still fresh")

	now = now.Add(time.Millisecond)
	assert.Equal(t, StaleData, v.Validate(b))
}

func TestDisabledValidatorAlwaysValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	v := New(cfg)

	assert.Equal(t, Valid, v.Validate(newBook(nil)))
	assert.Zero(t, v.Measurements())
}

func TestWideSpreadAfterCalibration(t *testing.T) {
	v := New(DefaultConfig())
	f := &fakeBook{spread: 0.001, liquidity: 100}

	// Uncalibrated: any spread is accepted.
	calibrate(t, v, f, 9)
	f.spread = 0.5
	assert.Equal(t, Valid, v.Validate(f))
	assert.True(t, v.IsCalibrated())

	v = New(DefaultConfig())
	f.spread = 0.001
	calibrate(t, v, f, 10)

	f.spread = 0.0031
	assert.Equal(t, WideSpread, v.Validate(f))
	assert.Equal(t, 10, v.Measurements(), "rejections are not calibrated on")

	f.spread = 0.0029
	assert.Equal(t, Valid, v.Validate(f))
}

func TestLowLiquidityAfterCalibration(t *testing.T) {
	v := New(DefaultConfig())
	f := &fakeBook{spread: 0.001, liquidity: 100}
	calibrate(t, v, f, 10)

	f.liquidity = 24.9
	assert.Equal(t, LowLiquidity, v.Validate(f))

	f.liquidity = 25
	assert.Equal(t, Valid, v.Validate(f))
}

func TestWideSpreadCheckedBeforeLowLiquidity(t *testing.T) {
	v := New(DefaultConfig())
	f := &fakeBook{spread: 0.001, liquidity: 100}
	calibrate(t, v, f, 10)

	f.spread, f.liquidity = 1, 1
	assert.Equal(t, WideSpread, v.Validate(f))
}

func TestStaleCheckedBeforeCalibration(t *testing.T) {
	v := New(DefaultConfig())
	f := &fakeBook{spread: 0.001, liquidity: 100}
	calibrate(t, v, f, 10)

	f.spread, f.latencyMs = 1, 6000
	assert.Equal(t, StaleData, v.Validate(f))
}

func TestNormalRangesFollowPercentiles(t *testing.T) {
	v := New(DefaultConfig())
	f := &fakeBook{}
	for i := 1; i <= 20; i++ {
		f.spread = float64(i) / 1000
		f.liquidity = float64(i * 10)
		require.Equal(t, Valid, v.Validate(f))
	}

	spread, liquidity := v.NormalRanges()
	assert.InDelta(t, 0.003, spread.Low, 1e-12)
	assert.InDelta(t, 0.019, spread.High, 1e-12)
	assert.Equal(t, 30.0, liquidity.Low)
	assert.Equal(t, 190.0, liquidity.High)
	assert.Greater(t, spread.High, spread.Low)
}

func TestCalibrationHistoryIsBounded(t *testing.T) {
	v := New(DefaultConfig())
	f := &fakeBook{spread: 0.001, liquidity: 100}
	calibrate(t, v, f, 150)
	assert.Equal(t, historySize, v.Measurements())
}

func TestPercentileRangeClamps(t *testing.T) {
	r := percentileRange([]float64{7})
	assert.Equal(t, Range{Low: 7, High: 7}, r)

	r = percentileRange([]float64{3, 1, 2})
	assert.Equal(t, Range{Low: 1, High: 3}, r)
}

func TestResultStrings(t *testing.T) {
	cases := map[Result]string{
		Valid:             "Valid",
		WideSpread:        "Wide Spread",
		LowLiquidity:      "Low Liquidity",
		StaleData:         "Stale Data",
		PriceAnomaly:      "Price Anomaly",
		InsufficientDepth: "Insufficient Depth",
	}
	for r, want := range cases {
		assert.Equal(t, want, r.String())
		assert.Equal(t, r == Valid, r.IsValid())
	}
}

func TestInfiniteAskIsNotReady(t *testing.T) {
	v := New(DefaultConfig())
	b := newBook(nil)
	b.ApplySnapshot([]domain.Level{lv(1, 1)}, nil)
	_, ask := b.BestBidAsk()
	require.True(t, math.IsInf(ask, 1))
	assert.Equal(t, InsufficientDepth, v.Validate(b))
}
