package domain

import "time"

// BookStats is the per-cycle summary of one symbol's book, its derived flow
// metrics and the validator verdict. It is what every sink receives.
type BookStats struct {
	RunID     string    `json:"run_id"`
	Symbol    string    `json:"symbol"`
	Time      time.Time `json:"time"`
	BestBid   float64   `json:"best_bid"`
	BestAsk   float64   `json:"best_ask"`
	MidPrice  float64   `json:"mid_price"`
	SpreadPct float64   `json:"spread_pct"`
	LatencyMs int64     `json:"latency_ms"`
	Updates   uint64    `json:"updates"`

	Imbalance map[int]float64 `json:"imbalance"`
	Liquidity map[int]float64 `json:"liquidity"`

	VolumeDeltas     map[string]float64 `json:"volume_deltas"`
	AvgOrderSize     float64            `json:"avg_order_size"`
	BidPressure      float64            `json:"bid_pressure"`
	AskPressure      float64            `json:"ask_pressure"`
	PressureScore    float64            `json:"pressure_score"`
	WhaleScore       float64            `json:"whale_score"`
	Whales           int                `json:"whales"`
	DepthConsistency float64            `json:"depth_consistency"`

	Validation string `json:"validation"`
	Tradable   bool   `json:"tradable"`
	Calibrated bool   `json:"calibrated"`
}

// Ready reports whether both sides of the book carried a price. Producers
// zero BestAsk and MidPrice while the ask side is empty so the struct stays
// JSON-encodable.
func (s BookStats) Ready() bool {
	return s.BestBid > 0 && s.BestAsk > 0
}
