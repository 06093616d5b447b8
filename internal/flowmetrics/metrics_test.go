package flowmetrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine() (*Engine, *fakeClock) {
	clk := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	return NewEngine(WithClock(clk.now)), clk
}

func lv(price, qty float64) domain.Level {
	return domain.Level{Price: price, Quantity: qty}
}

func TestVolumeHistoryIsBounded(t *testing.T) {
	e, clk := newTestEngine()
	for i := 0; i < 75; i++ {
		e.AddSnapshot(float64(i), 1)
		clk.advance(time.Second)
	}
	assert.Equal(t, volumeHistorySize, e.HistoryLen())
	assert.Equal(t, 15.0, e.history.at(0).BidVolume)
	assert.Equal(t, 74.0, e.history.at(e.HistoryLen()-1).BidVolume)
}

func TestVolumeDeltaNeedsTwoSnapshots(t *testing.T) {
	e, _ := newTestEngine()
	assert.Zero(t, e.VolumeDelta(time.Second))

	e.AddSnapshot(10, 8)
	assert.Zero(t, e.VolumeDelta(time.Second))
	bid, ask := e.SideVolumeDeltas(time.Second)
	assert.Zero(t, bid)
	assert.Zero(t, ask)
}

func TestVolumeDeltaPerSecond(t *testing.T) {
	e, clk := newTestEngine()
	e.AddSnapshot(10, 8) // t0, total 18
	clk.advance(time.Second)
	e.AddSnapshot(12, 9) // t1, total 21
	clk.advance(time.Second)
	e.AddSnapshot(16, 10) // t2, total 26

	// 5s window reaches back to t0: (26-18)/2s.
	assert.InDelta(t, 4.0, e.VolumeDelta(5*time.Second), 1e-12)
	// 1s window starts at t1: (26-21)/1s.
	assert.InDelta(t, 5.0, e.VolumeDelta(time.Second), 1e-12)

	bid, ask := e.SideVolumeDeltas(5 * time.Second)
	assert.InDelta(t, 3.0, bid, 1e-12)
	assert.InDelta(t, 1.0, ask, 1e-12)
}

func TestVolumeDeltaWindowOnlyNewestIsZero(t *testing.T) {
	e, clk := newTestEngine()
	e.AddSnapshot(10, 8)
	clk.advance(10 * time.Second)
	e.AddSnapshot(20, 8)

	// Only the newest snapshot is inside a 1s window.
	assert.Zero(t, e.VolumeDelta(time.Second))
}

func TestVolumeDeltaFallsBackToOldest(t *testing.T) {
	e, clk := newTestEngine()
	e.AddSnapshot(10, 0)
	clk.advance(2 * time.Second)
	e.AddSnapshot(14, 0)
	clk.advance(10 * time.Second)

	// Nothing is inside the window, the oldest held snapshot is used.
	assert.InDelta(t, 2.0, e.VolumeDelta(time.Second), 1e-12)
}

func TestVolumeDeltasMultipleWindows(t *testing.T) {
	e, clk := newTestEngine()
	e.AddSnapshot(0, 0)
	clk.advance(4 * time.Second)
	e.AddSnapshot(4, 0)
	clk.advance(time.Second)
	e.AddSnapshot(10, 0)

	got := e.VolumeDeltas([]time.Duration{time.Second, 30 * time.Second})
	require.Len(t, got, 2)
	assert.InDelta(t, 6.0, got[time.Second], 1e-12)
	assert.InDelta(t, 2.0, got[30*time.Second], 1e-12)
}

func TestUpdateAvgOrderSizeLastCallWins(t *testing.T) {
	e, _ := newTestEngine()
	e.UpdateAvgOrderSize([]domain.Level{lv(1, 2), lv(2, 4)})
	assert.Equal(t, 3.0, e.AvgOrderSize())

	e.UpdateAvgOrderSize([]domain.Level{lv(3, 1)})
	assert.Equal(t, 1.0, e.AvgOrderSize())

	e.UpdateAvgOrderSize(nil)
	assert.Equal(t, 1.0, e.AvgOrderSize())
}

func TestDetectWhales(t *testing.T) {
	e, _ := newTestEngine()
	e.UpdateAvgOrderSize([]domain.Level{lv(1, 1), lv(2, 1)})

	whales := e.DetectWhales(
		[]domain.Level{lv(100, 5), lv(99, 3), lv(98, 0.5)},
		[]domain.Level{lv(101, 1), lv(102, 4)},
		3.0,
	)

	require.Len(t, whales, 2)
	assert.Equal(t, domain.SideBid, whales[0].Side)
	assert.Equal(t, 100.0, whales[0].Price)
	assert.Equal(t, 5.0, whales[0].SizeMultiplier)
	assert.Equal(t, domain.SideAsk, whales[1].Side)
	assert.Equal(t, 4.0, whales[1].SizeMultiplier)
	assert.Len(t, e.LargeOrders(), 2)
}

func TestDetectWhalesWithoutAverage(t *testing.T) {
	e, _ := newTestEngine()
	assert.Empty(t, e.DetectWhales([]domain.Level{lv(100, 1000)}, nil, 3))
	assert.Empty(t, e.LargeOrders())
}

func TestLargeOrderHistoryIsBounded(t *testing.T) {
	e, _ := newTestEngine()
	e.UpdateAvgOrderSize([]domain.Level{lv(1, 1)})
	for i := 0; i < 30; i++ {
		e.DetectWhales([]domain.Level{lv(float64(i), 10)}, nil, 3)
	}
	orders := e.LargeOrders()
	require.Len(t, orders, largeOrderHistory)
	assert.Equal(t, 10.0, orders[0].Price)
	assert.Equal(t, 29.0, orders[len(orders)-1].Price)
}

func TestMultiLevelImbalance(t *testing.T) {
	e, _ := newTestEngine()
	bids := []domain.Level{lv(100, 3), lv(99, 1), lv(98, 1)}
	asks := []domain.Level{lv(101, 1), lv(102, 1), lv(103, 3)}

	got := e.MultiLevelImbalance(bids, asks, []int{1, 2, 10})
	assert.InDelta(t, 0.5, got[1], 1e-12)
	assert.InDelta(t, 2.0/6.0, got[2], 1e-12)
	assert.InDelta(t, 0.0, got[10], 1e-12)

	got[1] = 42
	assert.InDelta(t, 0.5, e.ImbalanceByDepth()[1], 1e-12)
}

func TestMultiLevelImbalanceEmptySides(t *testing.T) {
	e, _ := newTestEngine()
	got := e.MultiLevelImbalance(nil, nil, []int{5})
	assert.Equal(t, map[int]float64{5: 0}, got)
}

func TestPressure(t *testing.T) {
	e, clk := newTestEngine()

	bid, ask := e.Pressure(100, 101)
	assert.Zero(t, bid)
	assert.Zero(t, ask)
	assert.Zero(t, e.PressureScore())

	clk.advance(2 * time.Second)
	bid, ask = e.Pressure(102, 101.5)
	assert.InDelta(t, 1.0, bid, 1e-12)
	assert.InDelta(t, 0.25, ask, 1e-12)
	assert.InDelta(t, 75.0, e.PressureScore(), 1e-9)

	// Same instant: previous velocities are returned.
	bid, ask = e.Pressure(200, 50)
	assert.InDelta(t, 1.0, bid, 1e-12)
	assert.InDelta(t, 0.25, ask, 1e-12)
}

func TestPressureScoreClamps(t *testing.T) {
	e, clk := newTestEngine()
	e.Pressure(100, 101)
	clk.advance(time.Second)
	e.Pressure(50, 150)
	assert.Equal(t, -100.0, e.PressureScore())

	clk.advance(time.Second)
	e.Pressure(150, 50)
	assert.Equal(t, 100.0, e.PressureScore())
}

func TestDepthConsistency(t *testing.T) {
	e, _ := newTestEngine()
	assert.Zero(t, e.DepthConsistency())

	e.MultiLevelImbalance([]domain.Level{lv(1, 1)}, []domain.Level{lv(2, 1)}, []int{5})
	assert.Zero(t, e.DepthConsistency(), "one depth is not enough")

	// Identical imbalance at every depth.
	bids := []domain.Level{lv(100, 2), lv(99, 2)}
	asks := []domain.Level{lv(101, 1), lv(102, 1)}
	e.MultiLevelImbalance(bids, asks, []int{1, 2})
	assert.InDelta(t, 1.0, e.DepthConsistency(), 1e-12)

	// Imbalances 1 and -1/3: stddev 2/3.
	bids = []domain.Level{lv(100, 1)}
	asks = []domain.Level{lv(101, 0), lv(102, 2)}
	e.MultiLevelImbalance(bids, asks, []int{1, 2})
	assert.InDelta(t, math.Exp(-4.0/3.0), e.DepthConsistency(), 1e-12)
}

func TestDepthConsistencyReferenceValues(t *testing.T) {
	e, _ := newTestEngine()

	// Depths that agree score close to 1.
	e.imbalanceByDepth = map[int]float64{5: 0.50, 10: 0.52, 20: 0.48}
	assert.InDelta(t, 0.968, e.DepthConsistency(), 1e-3)
	assert.Greater(t, e.DepthConsistency(), 0.95)

	// Opposite signals score exp(-2*0.9).
	e.imbalanceByDepth = map[int]float64{5: 0.9, 10: -0.9}
	assert.InDelta(t, 0.165, e.DepthConsistency(), 1e-3)
}

func TestWhaleScoreDecaysWithAge(t *testing.T) {
	e, clk := newTestEngine()
	e.UpdateAvgOrderSize([]domain.Level{lv(1, 1)})
	assert.Zero(t, e.WhaleScore(time.Minute))

	e.DetectWhales([]domain.Level{lv(100, 5)}, nil, 3) // multiplier 5
	assert.InDelta(t, 20.0, e.WhaleScore(10*time.Second), 1e-9)

	clk.advance(5 * time.Second)
	assert.InDelta(t, 10.0, e.WhaleScore(10*time.Second), 1e-9)

	clk.advance(6 * time.Second)
	assert.Zero(t, e.WhaleScore(10*time.Second))
}

func TestWhaleScoreCapped(t *testing.T) {
	e, _ := newTestEngine()
	e.UpdateAvgOrderSize([]domain.Level{lv(1, 1)})
	e.DetectWhales([]domain.Level{lv(100, 50), lv(99, 40)}, nil, 3)
	assert.Equal(t, 100.0, e.WhaleScore(time.Minute))
}
