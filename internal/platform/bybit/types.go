package bybit

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

const (
	// MainnetPublicLinear is the public USDT perpetual stream.
	MainnetPublicLinear = "wss://stream.bybit.com/v5/public/linear"
	// TestnetPublicLinear is the testnet counterpart of MainnetPublicLinear.
	TestnetPublicLinear = "wss://stream-testnet.bybit.com/v5/public/linear"

	TypeSnapshot = "snapshot"
	TypeDelta    = "delta"

	// OrderbookTopicPrefix matches every order book topic.
	OrderbookTopicPrefix = "orderbook."
)

// OrderbookTopic returns the topic name for depth levels of symbol,
// e.g. "orderbook.50.BTCUSDT".
func OrderbookTopic(depth int, symbol string) string {
	return fmt.Sprintf("orderbook.%d.%s", depth, symbol)
}

// Command is an outbound control frame.
type Command struct {
	ReqID string `json:"req_id,omitempty"`
	Op    string `json:"op"`
	Args  []any  `json:"args,omitempty"`
}

// Envelope is the outer frame of every inbound message. Data frames carry
// Topic and Data; control responses carry Op and Success.
type Envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	ConnID  string          `json:"conn_id"`
}

// OrderbookData is the payload of an orderbook.* topic. Levels are
// [price, size] string pairs.
type OrderbookData struct {
	Symbol   string      `json:"s"`
	Bids     [][2]string `json:"b"`
	Asks     [][2]string `json:"a"`
	UpdateID int64       `json:"u"`
	Seq      int64       `json:"seq"`
}

// OrderbookMessage is a decoded order book frame.
type OrderbookMessage struct {
	Topic string
	Type  string
	Ts    int64
	Data  OrderbookData
}

// IsSnapshot reports whether the frame replaces the whole book. An update id
// of 1 marks a snapshot re-sent after a service restart.
func (m OrderbookMessage) IsSnapshot() bool {
	return m.Type == TypeSnapshot || m.Data.UpdateID == 1
}

// Levels converts both sides to numeric levels, see ParseLevels.
func (d OrderbookData) Levels() (bids, asks []domain.Level) {
	return ParseLevels(d.Bids), ParseLevels(d.Asks)
}

// ParseLevels converts string pairs to levels. Pairs that do not parse, are
// not finite, or carry a negative size are dropped.
func ParseLevels(raw [][2]string) []domain.Level {
	out := make([]domain.Level, 0, len(raw))
	for _, pair := range raw {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil || !finite(price) || price <= 0 {
			continue
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil || !finite(qty) || qty < 0 {
			continue
		}
		out = append(out, domain.Level{Price: price, Quantity: qty})
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// DecodeOrderbook decodes a data frame already identified as an order book
// topic.
func DecodeOrderbook(env Envelope) (OrderbookMessage, error) {
	var data OrderbookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return OrderbookMessage{}, fmt.Errorf("bybit: decode orderbook %s: %w: %w", env.Topic, domain.ErrMalformed, err)
	}
	return OrderbookMessage{Topic: env.Topic, Type: env.Type, Ts: env.Ts, Data: data}, nil
}
