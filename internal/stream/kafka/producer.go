// Package kafka publishes book statistics to a Kafka topic, keyed by symbol
// so each symbol's stats stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/orderflowbot/internal/domain"
)

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	// RequireAll waits for every in-sync replica; otherwise the leader only.
	RequireAll  bool
	MaxAttempts int
}

func (cfg ProducerConfig) validate() error {
	var errs []error
	if len(cfg.Brokers) == 0 {
		errs = append(errs, errors.New("at least one broker is required"))
	}
	if cfg.Topic == "" {
		errs = append(errs, errors.New("topic is required"))
	}
	return errors.Join(errs...)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements domain.StatsSink on top of a kafka-go Writer.
type Producer struct {
	w     messageWriter
	topic string
}

// NewProducer creates a Producer. The underlying writer connects lazily on
// the first write.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	acks := kafka.RequireOne
	if cfg.RequireAll {
		acks = kafka.RequireAll
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: acks,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  kafka.Snappy,
	}
	return &Producer{w: w, topic: cfg.Topic}, nil
}

// Name implements domain.StatsSink.
func (p *Producer) Name() string { return "kafka" }

// Write publishes one stats record.
func (p *Producer) Write(ctx context.Context, stats domain.BookStats) error {
	msg, err := encode(stats)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error { return p.w.Close() }

func encode(stats domain.BookStats) (kafka.Message, error) {
	value, err := json.Marshal(stats)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal stats: %w", err)
	}
	return kafka.Message{
		Key:   []byte(stats.Symbol),
		Value: value,
		Time:  stats.Time,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(stats.RunID)},
			{Key: "validation", Value: []byte(stats.Validation)},
		},
	}, nil
}

var _ domain.StatsSink = (*Producer)(nil)
