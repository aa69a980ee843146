// internal/domain/tick.go
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNonPositivePrice is returned by NewPriceTick for price <= 0.
var ErrNonPositivePrice = errors.New("domain: price must be positive")

// PriceTick is one trade observation.
type PriceTick struct {
	Symbol     Symbol
	Price      decimal.Decimal
	ObservedAt time.Time
}

// NewPriceTick enforces Price > 0.
func NewPriceTick(sym Symbol, price decimal.Decimal, at time.Time) (PriceTick, error) {
	if !price.IsPositive() {
		return PriceTick{}, ErrNonPositivePrice
	}
	return PriceTick{Symbol: sym, Price: price, ObservedAt: at}, nil
}

// -----------------------------------------------------------------------------
// Subscriber envelope
// -----------------------------------------------------------------------------

const (
	// MessageTypePriceUpdate is the only message type sent to subscribers.
	MessageTypePriceUpdate = "send_price_update"
	// TimestampLayout formats PriceUpdate.Timestamp (UTC).
	TimestampLayout = "2006-01-02 15:04:05"
)

// PriceUpdate is the JSON envelope written to subscriber sockets.
type PriceUpdate struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

// NewPriceUpdate renders t for the wire.
func NewPriceUpdate(t PriceTick) PriceUpdate {
	return PriceUpdate{
		Type:      MessageTypePriceUpdate,
		Symbol:    t.Symbol.String(),
		Price:     t.Price.String(),
		Timestamp: t.ObservedAt.UTC().Format(TimestampLayout),
	}
}
