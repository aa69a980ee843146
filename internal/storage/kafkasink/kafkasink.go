// internal/storage/kafkasink/kafkasink.go
//
// Package kafkasink publishes accepted ticks to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/storage"
	"github.com/leraspizh/crypto-project/pkg/kafka"
	"github.com/leraspizh/crypto-project/pkg/kafka/producer"
)

// DefaultTopic receives ticks when no topic is configured.
const DefaultTopic = "crypto.prices"

// Config selects the topic and the producer settings.
type Config struct {
	Enabled  bool            `mapstructure:"enabled"`
	Topic    string          `mapstructure:"topic"`
	Producer producer.Config `mapstructure:",squash"`
}

// Validate checks required fields when the sink is enabled.
func (c Config) Validate() error {
	if c.Enabled && len(c.Producer.Brokers) == 0 {
		return fmt.Errorf("kafka: brokers are required")
	}
	return nil
}

// Sink writes one JSON record per tick, keyed by symbol so a partition
// keeps per-symbol order.
type Sink struct {
	prod  kafka.Producer
	topic string
	seq   atomic.Int64
	now   func() time.Time
}

// New wraps prod.
func New(prod kafka.Producer, topic string) *Sink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Sink{prod: prod, topic: topic, now: time.Now}
}

func (s *Sink) Name() string { return "kafka" }

// Record publishes the tick. IDs are local to this process.
func (s *Sink) Record(ctx context.Context, symbol domain.Symbol, price decimal.Decimal) (storage.PriceRecord, error) {
	rec := storage.PriceRecord{
		ID:        s.seq.Add(1),
		Symbol:    symbol.String(),
		Price:     price,
		Timestamp: s.now().UTC(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return storage.PriceRecord{}, fmt.Errorf("kafka sink: marshal: %w", err)
	}
	if err := s.prod.Publish(ctx, s.topic, []byte(rec.Symbol), value); err != nil {
		return storage.PriceRecord{}, err
	}
	return rec, nil
}

// Ping checks the cluster.
func (s *Sink) Ping(ctx context.Context) error { return s.prod.Ping(ctx) }

// Close closes the producer.
func (s *Sink) Close() error { return s.prod.Close() }
