package orderbook

import (
	"sync"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// sortedView caches the most recent rebuild of both sides. Slices are never
// mutated after swap; a rebuild always installs fresh ones.
type sortedView struct {
	mu   sync.RWMutex
	bids []domain.PriceLevel
	asks []domain.PriceLevel
}

func (v *sortedView) swap(bids, asks []domain.PriceLevel) {
	v.mu.Lock()
	v.bids = bids
	v.asks = asks
	v.mu.Unlock()
}

func (v *sortedView) volumes(depth int) (bid, ask float64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return domain.Volume(head(v.bids, depth)), domain.Volume(head(v.asks, depth))
}

func (v *sortedView) top(depth int) (bids, asks []domain.PriceLevel) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return clone(head(v.bids, depth)), clone(head(v.asks, depth))
}

func (v *sortedView) depths() (bids, asks int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.bids), len(v.asks)
}

// head returns the first depth entries; depth <= 0 means all of them.
func head(levels []domain.PriceLevel, depth int) []domain.PriceLevel {
	if depth <= 0 || depth >= len(levels) {
		return levels
	}
	return levels[:depth]
}

func clone(levels []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(levels))
	copy(out, levels)
	return out
}
