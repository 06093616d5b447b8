package orderbook

import (
	"math"
	"sync"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

const shardCount = 16

type shard struct {
	mu     sync.RWMutex
	levels map[float64]float64
}

// levelStore maps price to quantity for one side of the book. Keys are spread
// over independently locked shards so a writer only ever contends with
// readers of the same shard.
type levelStore struct {
	shards [shardCount]shard
}

func newLevelStore() *levelStore {
	s := &levelStore{}
	for i := range s.shards {
		s.shards[i].levels = make(map[float64]float64)
	}
	return s
}

func (s *levelStore) shardFor(price float64) *shard {
	h := math.Float64bits(price)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return &s.shards[h%shardCount]
}

// normalize folds -0 into +0 so both land on the same shard.
func normalize(price float64) float64 {
	if price == 0 {
		return 0
	}
	return price
}

func (s *levelStore) put(price, qty float64) {
	price = normalize(price)
	sh := s.shardFor(price)
	sh.mu.Lock()
	sh.levels[price] = qty
	sh.mu.Unlock()
}

func (s *levelStore) remove(price float64) {
	price = normalize(price)
	sh := s.shardFor(price)
	sh.mu.Lock()
	delete(sh.levels, price)
	sh.mu.Unlock()
}

func (s *levelStore) get(price float64) (float64, bool) {
	price = normalize(price)
	sh := s.shardFor(price)
	sh.mu.RLock()
	qty, ok := sh.levels[price]
	sh.mu.RUnlock()
	return qty, ok
}

func (s *levelStore) clear() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		clear(sh.levels)
		sh.mu.Unlock()
	}
}

func (s *levelStore) len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.levels)
		sh.mu.RUnlock()
	}
	return n
}

// collect copies every entry into a fresh slice stamped with ts. Shards are
// visited one at a time, so a concurrent writer may be seen in some shards
// and not others.
func (s *levelStore) collect(ts int64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, s.len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for p, q := range sh.levels {
			out = append(out, domain.PriceLevel{Price: p, Quantity: q, Timestamp: ts})
		}
		sh.mu.RUnlock()
	}
	return out
}
