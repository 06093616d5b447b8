package orderbook

import (
	"math"
	"sync/atomic"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

const (
	// NoBid is the published best bid while the bid side is empty.
	NoBid = 0.0
	// NoAskBits is the raw word stored while the ask side is empty.
	NoAskBits = math.MaxUint64
)

// NoAsk is the published best ask while the ask side is empty.
var NoAsk = math.Inf(1)

// bboPublisher holds the best bid and ask as IEEE-754 bit patterns so they can
// be read without any lock.
type bboPublisher struct {
	bid atomic.Uint64
	ask atomic.Uint64
}

func (p *bboPublisher) reset() {
	p.bid.Store(math.Float64bits(NoBid))
	p.ask.Store(NoAskBits)
}

// publish stores the head of each sorted side, or the side's sentinel.
func (p *bboPublisher) publish(bids, asks []domain.PriceLevel) {
	if len(bids) > 0 {
		p.bid.Store(math.Float64bits(bids[0].Price))
	} else {
		p.bid.Store(math.Float64bits(NoBid))
	}
	if len(asks) > 0 {
		p.ask.Store(math.Float64bits(asks[0].Price))
	} else {
		p.ask.Store(NoAskBits)
	}
}

func (p *bboPublisher) load() (bid, ask float64) {
	bid = math.Float64frombits(p.bid.Load())
	raw := p.ask.Load()
	if raw == NoAskBits {
		return bid, NoAsk
	}
	return bid, math.Float64frombits(raw)
}
