package domain

import "time"

// ValidationRecord is one persisted change of validator verdict.
type ValidationRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Symbol    string    `json:"symbol"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	BestBid   float64   `json:"best_bid"`
	BestAsk   float64   `json:"best_ask"`
	SpreadPct float64   `json:"spread_pct"`
	LatencyMs int64     `json:"latency_ms"`
	Stats     BookStats `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOpts narrows a history query. Zero values mean no filter.
type ListOpts struct {
	Symbol string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}
