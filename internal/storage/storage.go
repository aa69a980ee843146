// internal/storage/storage.go
//
// Package storage records accepted ticks and serves them back for the
// history API.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/domain"
)

// ErrNotFound is returned by Reader.Get for unknown ids.
var ErrNotFound = errors.New("storage: record not found")

// PriceRecord is one persisted tick. The timestamp is assigned by the store.
type PriceRecord struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Sink durably records accepted ticks.
type Sink interface {
	Record(ctx context.Context, symbol domain.Symbol, price decimal.Decimal) (PriceRecord, error)
}

// Reader lists persisted ticks, most recent first.
type Reader interface {
	List(ctx context.Context, limit int) ([]PriceRecord, error)
	Get(ctx context.Context, id int64) (PriceRecord, error)
}

// LatestReader returns the most recent record of every symbol, keyed by
// symbol.
type LatestReader interface {
	Latest(ctx context.Context) (map[string]PriceRecord, error)
}

// Store is a Sink that can also be read.
type Store interface {
	Sink
	Reader
}

// Named lets a sink report a label for metrics and logs.
type Named interface {
	Name() string
}

func sinkName(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
