package redis

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

type fakeCache struct {
	snapshots int
	bbo       [2]float64
	err       error
}

func (f *fakeCache) SetSnapshot(_ context.Context, _ string, _, _ []domain.PriceLevel) error {
	f.snapshots++
	return f.err
}

func (f *fakeCache) GetSnapshot(context.Context, string, int) ([]domain.PriceLevel, []domain.PriceLevel, error) {
	return nil, nil, domain.ErrNotFound
}

func (f *fakeCache) SetBBO(_ context.Context, _ string, bid, ask float64) error {
	f.bbo = [2]float64{bid, ask}
	return nil
}

func (f *fakeCache) GetBBO(context.Context, string) (float64, float64, error) {
	return f.bbo[0], f.bbo[1], nil
}

type fakeBus struct {
	published [][]byte
	streamed  [][]byte
	channels  []string
	streamErr error
}

func (f *fakeBus) Publish(_ context.Context, channel string, p []byte) error {
	f.published = append(f.published, p)
	f.channels = append(f.channels, channel)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (f *fakeBus) StreamAppend(_ context.Context, _ string, p []byte) error {
	if f.streamErr != nil {
		return f.streamErr
	}
	f.streamed = append(f.streamed, p)
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type staticLevels struct{}

func (staticLevels) Levels(int) ([]domain.PriceLevel, []domain.PriceLevel) {
	return []domain.PriceLevel{{Price: 1, Quantity: 1}}, []domain.PriceLevel{{Price: 2, Quantity: 1}}
}

func TestStatsSinkStreamsOnlyTransitions(t *testing.T) {
	cache, bus := &fakeCache{}, &fakeBus{}
	sink := NewStatsSink(cache, bus, staticLevels{}, 20, "orderflow:")
	ctx := context.Background()

	ready := domain.BookStats{Symbol: "BTCUSDT", BestBid: 1, BestAsk: 2, Validation: "Valid"}
	require.NoError(t, sink.Write(ctx, ready))
	require.NoError(t, sink.Write(ctx, ready))
	wide := ready
	wide.Validation = "Wide Spread"
	require.NoError(t, sink.Write(ctx, wide))

	assert.Equal(t, 3, cache.snapshots)
	assert.Len(t, bus.published, 3)
	require.Len(t, bus.streamed, 2)

	var ev ValidationEvent
	require.NoError(t, json.Unmarshal(bus.streamed[1], &ev))
	assert.Equal(t, "Valid", ev.From)
	assert.Equal(t, "Wide Spread", ev.To)
	assert.Equal(t, "BTCUSDT", ev.Stats.Symbol)
}

func TestStatsSinkRetriesTransitionAfterStreamFailure(t *testing.T) {
	cache, bus := &fakeCache{}, &fakeBus{}
	sink := NewStatsSink(cache, bus, staticLevels{}, 20, "orderflow:")
	ctx := context.Background()

	valid := domain.BookStats{Symbol: "BTCUSDT", BestBid: 1, BestAsk: 2, Validation: "Valid"}
	require.NoError(t, sink.Write(ctx, valid))

	stale := valid
	stale.Validation = "Stale Data"
	bus.streamErr = errors.New("xadd down")
	assert.ErrorIs(t, sink.Write(ctx, stale), bus.streamErr)

	bus.streamErr = nil
	require.NoError(t, sink.Write(ctx, stale))
	require.NoError(t, sink.Write(ctx, stale))
	require.Len(t, bus.streamed, 2)

	var ev ValidationEvent
	require.NoError(t, json.Unmarshal(bus.streamed[1], &ev))
	assert.Equal(t, "Valid", ev.From)
	assert.Equal(t, "Stale Data", ev.To)
}

func TestStatsSinkRetriesBaselineAfterStreamFailure(t *testing.T) {
	bus := &fakeBus{streamErr: errors.New("xadd down")}
	sink := NewStatsSink(&fakeCache{}, bus, staticLevels{}, 20, "orderflow:")
	ctx := context.Background()

	valid := domain.BookStats{Symbol: "BTCUSDT", BestBid: 1, BestAsk: 2, Validation: "Valid"}
	assert.Error(t, sink.Write(ctx, valid))

	bus.streamErr = nil
	require.NoError(t, sink.Write(ctx, valid))
	require.Len(t, bus.streamed, 1)
}

func TestKeysUseConfiguredPrefix(t *testing.T) {
	bc := &BookCache{prefix: "desk1:"}
	assert.Equal(t, "desk1:ob:BTCUSDT:bids", bc.bidsKey("BTCUSDT"))
	assert.Equal(t, "desk1:ob:BTCUSDT:ask:qty", bc.askQtyKey("BTCUSDT"))
	assert.Equal(t, "desk1:ob:BTCUSDT:bbo", bc.bboKey("BTCUSDT"))
	assert.Equal(t, "desk1:stats", StatsChannel("desk1:"))
	assert.Equal(t, "desk1:validation", ValidationStream("desk1:"))

	bus := &fakeBus{}
	sink := NewStatsSink(&fakeCache{}, bus, staticLevels{}, 20, "desk1:")
	require.NoError(t, sink.Write(context.Background(), domain.BookStats{Symbol: "X", Validation: "Valid"}))
	assert.Equal(t, []string{"desk1:stats"}, bus.channels)
}

func TestStatsSinkSkipsLevelsWhenNotReady(t *testing.T) {
	cache, bus := &fakeCache{}, &fakeBus{}
	sink := NewStatsSink(cache, bus, staticLevels{}, 20, "orderflow:")

	require.NoError(t, sink.Write(context.Background(), domain.BookStats{Symbol: "X", Validation: "Insufficient Depth"}))
	assert.Zero(t, cache.snapshots)
	assert.Len(t, bus.published, 1)
}

func TestStatsSinkPropagatesCacheError(t *testing.T) {
	boom := errors.New("boom")
	sink := NewStatsSink(&fakeCache{err: boom}, &fakeBus{}, staticLevels{}, 20, "orderflow:")
	err := sink.Write(context.Background(), domain.BookStats{Symbol: "X", BestBid: 1, BestAsk: 2})
	assert.ErrorIs(t, err, boom)
}

func TestReadSideSkipsUnknownQuantities(t *testing.T) {
	got := readSide(
		[]goredis.Z{{Score: 101, Member: "101"}, {Score: 100, Member: "100"}, {Score: 99, Member: 99}},
		map[string]string{"101": "1.5"},
	)
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Quantity: 1.5}}, got)
}

func TestClientOptions(t *testing.T) {
	opts := ClientConfig{Addr: "localhost:6379", DB: 2, PoolSize: 5, TLSEnabled: true}.options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	require.NotNil(t, opts.TLSConfig)

	assert.Nil(t, ClientConfig{Addr: "x"}.options().TLSConfig)
}

func TestValidPrice(t *testing.T) {
	assert.True(t, validPrice(50000))
	assert.False(t, validPrice(0))
	assert.False(t, validPrice(1.7976931348623157e308))
}

// The tests below need a live Redis; set ORDERFLOW_TEST_REDIS_ADDR to run them.
func liveClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("ORDERFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ORDERFLOW_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, DB: 15})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Underlying().FlushDB(context.Background()).Err()
		_ = c.Close()
	})
	return c
}

func TestBookCacheRoundTrip(t *testing.T) {
	c := liveClient(t)
	bc := NewBookCache(c, "test:", time.Minute)
	ctx := context.Background()

	_, _, err := bc.GetSnapshot(ctx, "BTCUSDT", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bids := []domain.PriceLevel{{Price: 50000, Quantity: 1.5}, {Price: 49999, Quantity: 2}}
	asks := []domain.PriceLevel{{Price: 50001, Quantity: 1.3}, {Price: 50002, Quantity: 1.8}}
	require.NoError(t, bc.SetSnapshot(ctx, "BTCUSDT", bids, asks))

	gotBids, gotAsks, err := bc.GetSnapshot(ctx, "BTCUSDT", 1)
	require.NoError(t, err)
	assert.Equal(t, bids[:1], gotBids)
	assert.Equal(t, asks[:1], gotAsks)

	require.NoError(t, bc.SetBBO(ctx, "BTCUSDT", 50000, 1.7976931348623157e308))
	bid, ask, err := bc.GetBBO(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, bid)
	assert.Zero(t, ask)
}

func TestCooldownGateLive(t *testing.T) {
	c := liveClient(t)
	g := NewCooldownGate(c, "test:")
	ctx := context.Background()

	ok, err := g.Allow(ctx, "startup:BTCUSDT", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Allow(ctx, "startup:BTCUSDT", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusStreamLive(t *testing.T) {
	c := liveClient(t)
	bus := NewSignalBus(c, 100)
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, "test:stream", []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, "test:stream", []byte("b")))

	all, err := bus.StreamRead(ctx, "test:stream", "0", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []byte("a"), all[0].Payload)

	latest, err := bus.StreamLatest(ctx, "test:stream", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, []byte("b"), latest[0].Payload)
}

func TestRateLimiterLive(t *testing.T) {
	c := liveClient(t)
	rl := NewRateLimiter(c, "test:")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "alerts", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "alerts", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
