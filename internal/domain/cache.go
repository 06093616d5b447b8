package domain

import (
	"context"
	"time"
)

// BookCache mirrors the top of a live order book into a shared cache.
type BookCache interface {
	SetSnapshot(ctx context.Context, symbol string, bids, asks []PriceLevel) error
	GetSnapshot(ctx context.Context, symbol string, depth int) (bids, asks []PriceLevel, err error)
	SetBBO(ctx context.Context, symbol string, bestBid, bestAsk float64) error
	GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error)
}

// CooldownGate reports whether an action keyed by key may run now, and if so
// starts a cooldown of ttl for it.
type CooldownGate interface {
	Allow(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter admits at most limit events per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
