package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewProducerValidates(t *testing.T) {
	_, err := NewProducer(ProducerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker")
	assert.Contains(t, err.Error(), "topic")

	p, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, Topic: "orderflow.stats"})
	require.NoError(t, err)
	assert.Equal(t, "kafka", p.Name())
}

func TestWriteKeysBySymbol(t *testing.T) {
	fw := &fakeWriter{}
	p := &Producer{w: fw, topic: "t"}
	ts := time.UnixMilli(1_700_000_000_000).UTC()

	err := p.Write(context.Background(), domain.BookStats{
		RunID: "r1", Symbol: "ETHUSDT", Time: ts, BestBid: 10, BestAsk: 11, Validation: "Valid",
	})
	require.NoError(t, err)
	require.Len(t, fw.msgs, 1)

	m := fw.msgs[0]
	assert.Equal(t, "ETHUSDT", string(m.Key))
	assert.Equal(t, ts, m.Time)
	assert.Equal(t, []kafka.Header{
		{Key: "run_id", Value: []byte("r1")},
		{Key: "validation", Value: []byte("Valid")},
	}, m.Headers)

	var got domain.BookStats
	require.NoError(t, json.Unmarshal(m.Value, &got))
	assert.Equal(t, 10.0, got.BestBid)

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestWriteWrapsError(t *testing.T) {
	boom := errors.New("leader not available")
	p := &Producer{w: &fakeWriter{err: boom}, topic: "t"}
	err := p.Write(context.Background(), domain.BookStats{Symbol: "X"})
	assert.ErrorIs(t, err, boom)
}
