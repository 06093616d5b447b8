package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// BookCache implements domain.BookCache with one sorted set and one size hash
// per side.
//
// Key schema, every key under the configured prefix:
//
//	{prefix}ob:{symbol}:bids      sorted set of bid prices (score = price)
//	{prefix}ob:{symbol}:asks      sorted set of ask prices (score = price)
//	{prefix}ob:{symbol}:bid:qty   hash price -> quantity
//	{prefix}ob:{symbol}:ask:qty   hash price -> quantity
//	{prefix}ob:{symbol}:bbo       hash with "bid", "ask" and "ts" (unix ms)
type BookCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewBookCache creates a BookCache whose keys live under prefix. Keys expire
// after ttl without a refresh; zero disables expiry.
func NewBookCache(c *Client, prefix string, ttl time.Duration) *BookCache {
	return &BookCache{rdb: c.Underlying(), prefix: prefix, ttl: ttl}
}

func (bc *BookCache) key(symbol, suffix string) string {
	return bc.prefix + "ob:" + symbol + ":" + suffix
}

func (bc *BookCache) bidsKey(symbol string) string   { return bc.key(symbol, "bids") }
func (bc *BookCache) asksKey(symbol string) string   { return bc.key(symbol, "asks") }
func (bc *BookCache) bidQtyKey(symbol string) string { return bc.key(symbol, "bid:qty") }
func (bc *BookCache) askQtyKey(symbol string) string { return bc.key(symbol, "ask:qty") }
func (bc *BookCache) bboKey(symbol string) string    { return bc.key(symbol, "bbo") }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// SetSnapshot atomically replaces the cached levels of symbol.
func (bc *BookCache) SetSnapshot(ctx context.Context, symbol string, bids, asks []domain.PriceLevel) error {
	keys := []string{bc.bidsKey(symbol), bc.asksKey(symbol), bc.bidQtyKey(symbol), bc.askQtyKey(symbol)}

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	writeSide(ctx, pipe, keys[0], keys[2], bids)
	writeSide(ctx, pipe, keys[1], keys[3], asks)
	if bc.ttl > 0 {
		for _, k := range keys {
			pipe.Expire(ctx, k, bc.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", symbol, err)
	}
	return nil
}

func writeSide(ctx context.Context, pipe redis.Pipeliner, zKey, hKey string, levels []domain.PriceLevel) {
	if len(levels) == 0 {
		return
	}
	members := make([]redis.Z, 0, len(levels))
	fields := make([]any, 0, 2*len(levels))
	for _, l := range levels {
		p := formatFloat(l.Price)
		members = append(members, redis.Z{Score: l.Price, Member: p})
		fields = append(fields, p, formatFloat(l.Quantity))
	}
	pipe.ZAdd(ctx, zKey, members...)
	pipe.HSet(ctx, hKey, fields...)
}

// GetSnapshot reads the best depth levels of each side, bids descending and
// asks ascending. depth <= 0 reads everything. It returns domain.ErrNotFound
// when nothing is cached for symbol.
func (bc *BookCache) GetSnapshot(ctx context.Context, symbol string, depth int) ([]domain.PriceLevel, []domain.PriceLevel, error) {
	stop := int64(depth) - 1
	if depth <= 0 {
		stop = -1
	}

	pipe := bc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bc.bidsKey(symbol), 0, stop)
	asksCmd := pipe.ZRangeWithScores(ctx, bc.asksKey(symbol), 0, stop)
	bidQtyCmd := pipe.HGetAll(ctx, bc.bidQtyKey(symbol))
	askQtyCmd := pipe.HGetAll(ctx, bc.askQtyKey(symbol))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("redis: get book snapshot %s: %w", symbol, err)
	}

	bids := readSide(bidsCmd.Val(), bidQtyCmd.Val())
	asks := readSide(asksCmd.Val(), askQtyCmd.Val())
	if len(bids) == 0 && len(asks) == 0 {
		return nil, nil, domain.ErrNotFound
	}
	return bids, asks, nil
}

func readSide(zs []redis.Z, qty map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		p, ok := z.Member.(string)
		if !ok {
			continue
		}
		q, err := strconv.ParseFloat(qty[p], 64)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: z.Score, Quantity: q})
	}
	return out
}

// SetBBO stores the best prices. Non-positive or infinite prices are stored
// as absent.
func (bc *BookCache) SetBBO(ctx context.Context, symbol string, bestBid, bestAsk float64) error {
	key := bc.bboKey(symbol)
	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, key)
	fields := []any{"ts", strconv.FormatInt(time.Now().UnixMilli(), 10)}
	if validPrice(bestBid) {
		fields = append(fields, "bid", formatFloat(bestBid))
	}
	if validPrice(bestAsk) {
		fields = append(fields, "ask", formatFloat(bestAsk))
	}
	pipe.HSet(ctx, key, fields...)
	if bc.ttl > 0 {
		pipe.Expire(ctx, key, bc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set bbo %s: %w", symbol, err)
	}
	return nil
}

func validPrice(p float64) bool {
	return p > 0 && p < 1e300
}

// GetBBO returns the cached best prices, 0 for an absent side. It returns
// domain.ErrNotFound when nothing is cached.
func (bc *BookCache) GetBBO(ctx context.Context, symbol string) (float64, float64, error) {
	vals, err := bc.rdb.HGetAll(ctx, bc.bboKey(symbol)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	bid, _ := strconv.ParseFloat(vals["bid"], 64)
	ask, _ := strconv.ParseFloat(vals["ask"], 64)
	return bid, ask, nil
}

var _ domain.BookCache = (*BookCache)(nil)
