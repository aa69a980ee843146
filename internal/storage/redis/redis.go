// internal/storage/redis/redis.go
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/storage"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

var tracer = otel.Tracer("relay/storage/redis")

const (
	// LatestKey is the hash of symbol -> last accepted record (JSON).
	LatestKey = "prices:latest"
	// SeqKey numbers records.
	SeqKey = "prices:seq"
	// ChannelPrefix + symbol is the pub/sub channel for each record.
	ChannelPrefix = "prices."
)

// Config holds the Redis connection settings.
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Validate checks required fields when the sink is enabled.
func (c Config) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("redis: addr is required")
	}
	return nil
}

// Sink stores the latest price per symbol and announces every record on
// a per-symbol channel.
type Sink struct {
	rdb *redis.Client
	log *logger.Logger
	now func() time.Time
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	log = log.Named("redis")
	log.Info("redis: connected", zap.String("addr", cfg.Addr))
	return NewFromClient(rdb, log), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *redis.Client, log *logger.Logger) *Sink {
	return &Sink{rdb: rdb, log: log, now: time.Now}
}

func (s *Sink) Name() string { return "redis" }

// Record numbers the tick, stores it as the symbol's latest value and
// publishes it.
func (s *Sink) Record(ctx context.Context, symbol domain.Symbol, price decimal.Decimal) (storage.PriceRecord, error) {
	ctx, span := tracer.Start(ctx, "Redis.Record")
	defer span.End()

	id, err := s.rdb.Incr(ctx, SeqKey).Result()
	if err != nil {
		span.RecordError(err)
		return storage.PriceRecord{}, fmt.Errorf("redis incr: %w", err)
	}
	rec := storage.PriceRecord{ID: id, Symbol: symbol.String(), Price: price, Timestamp: s.now().UTC()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return storage.PriceRecord{}, fmt.Errorf("redis marshal: %w", err)
	}

	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, LatestKey, rec.Symbol, payload)
		p.Publish(ctx, ChannelPrefix+rec.Symbol, payload)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.log.WithContext(ctx).Error("redis write failed", zap.String("symbol", rec.Symbol), zap.Error(err))
		return storage.PriceRecord{}, fmt.Errorf("redis write: %w", err)
	}
	return rec, nil
}

// Latest returns the last stored record of every symbol.
func (s *Sink) Latest(ctx context.Context) (map[string]storage.PriceRecord, error) {
	raw, err := s.rdb.HGetAll(ctx, LatestKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make(map[string]storage.PriceRecord, len(raw))
	for sym, v := range raw {
		var rec storage.PriceRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("redis decode %s: %w", sym, err)
		}
		out[sym] = rec
	}
	return out, nil
}

// Ping checks connectivity.
func (s *Sink) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Close releases the client.
func (s *Sink) Close() error { return s.rdb.Close() }
