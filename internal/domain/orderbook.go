package domain

// Side identifies one side of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Level is a raw (price, quantity) pair as delivered by a feed.
// A quantity of zero in a delta removes the level.
type Level struct {
	Price    float64
	Quantity float64
}

// PriceLevel is a sorted-view entry. Timestamp is the unix-millisecond time of
// the rebuild that produced it.
type PriceLevel struct {
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Timestamp int64   `json:"ts"`
}

// Levels converts sorted-view entries back to raw pairs.
func Levels(in []PriceLevel) []Level {
	out := make([]Level, len(in))
	for i, l := range in {
		out[i] = Level{Price: l.Price, Quantity: l.Quantity}
	}
	return out
}

// Volume sums the quantity of the given levels.
func Volume(levels []PriceLevel) float64 {
	var v float64
	for _, l := range levels {
		v += l.Quantity
	}
	return v
}
