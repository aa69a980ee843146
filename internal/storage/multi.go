// internal/storage/multi.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/domain"
)

// Multi writes every tick to all sinks in order. The record returned is
// the one produced by the first sink that succeeded.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

// Record writes to every sink and joins their errors.
func (m Multi) Record(ctx context.Context, symbol domain.Symbol, price decimal.Decimal) (PriceRecord, error) {
	var (
		first PriceRecord
		found bool
		errs  []error
	)
	for _, s := range m {
		rec, err := s.Record(ctx, symbol, price)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sinkName(s), err))
			continue
		}
		if !found {
			first, found = rec, true
		}
	}
	if err := errors.Join(errs...); err != nil {
		return first, err
	}
	return first, nil
}
