package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// StatsChannel returns the pub/sub channel carrying every BookStats as JSON.
func StatsChannel(prefix string) string { return prefix + "stats" }

// ValidationStream returns the stream recording validation transitions.
func ValidationStream(prefix string) string { return prefix + "validation" }

// LevelSource supplies the sorted levels mirrored into the cache.
type LevelSource interface {
	Levels(depth int) (bids, asks []domain.PriceLevel)
}

// ValidationEvent is appended to the validation stream whenever the verdict for a
// symbol changes.
type ValidationEvent struct {
	Symbol string           `json:"symbol"`
	From   string           `json:"from"`
	To     string           `json:"to"`
	Stats  domain.BookStats `json:"stats"`
}

// StatsSink mirrors each cycle into Redis: top levels and BBO into the book
// cache, the stats onto StatsChannel, and verdict changes onto
// ValidationStream.
type StatsSink struct {
	cache   domain.BookCache
	bus     domain.SignalBus
	levels  LevelSource
	depth   int
	channel string
	stream  string

	mu   sync.Mutex
	last map[string]string
}

// NewStatsSink creates a StatsSink mirroring depth levels per side and
// publishing under prefix.
func NewStatsSink(cache domain.BookCache, bus domain.SignalBus, levels LevelSource, depth int, prefix string) *StatsSink {
	return &StatsSink{
		cache:   cache,
		bus:     bus,
		levels:  levels,
		depth:   depth,
		channel: StatsChannel(prefix),
		stream:  ValidationStream(prefix),
		last:    make(map[string]string),
	}
}

// Name identifies the sink in logs and metrics.
func (s *StatsSink) Name() string { return "redis" }

// Write implements domain.StatsSink.
func (s *StatsSink) Write(ctx context.Context, stats domain.BookStats) error {
	if stats.Ready() {
		bids, asks := s.levels.Levels(s.depth)
		if err := s.cache.SetSnapshot(ctx, stats.Symbol, bids, asks); err != nil {
			return err
		}
	}
	if err := s.cache.SetBBO(ctx, stats.Symbol, stats.BestBid, stats.BestAsk); err != nil {
		return err
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("redis: marshal stats: %w", err)
	}
	if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
		return err
	}

	from, changed := s.transition(stats.Symbol, stats.Validation)
	if !changed {
		return nil
	}
	event, err := json.Marshal(ValidationEvent{Symbol: stats.Symbol, From: from, To: stats.Validation, Stats: stats})
	if err == nil {
		err = s.bus.StreamAppend(ctx, s.stream, event)
	} else {
		err = fmt.Errorf("redis: marshal validation event: %w", err)
	}
	if err != nil {
		// Put the previous verdict back so the next cycle appends again.
		s.restore(stats.Symbol, from)
		return err
	}
	return nil
}

func (s *StatsSink) transition(symbol, verdict string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.last[symbol]
	s.last[symbol] = verdict
	return prev, !seen || prev != verdict
}

func (s *StatsSink) restore(symbol, prev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev == "" {
		delete(s.last, symbol)
		return
	}
	s.last[symbol] = prev
}

var _ domain.StatsSink = (*StatsSink)(nil)
