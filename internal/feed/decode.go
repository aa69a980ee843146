// internal/feed/decode.go
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/domain"
)

var (
	// ErrNotTrade marks frames without both a symbol and a price
	// (subscription acks, other event types). They are skipped silently.
	ErrNotTrade = errors.New("feed: not a trade message")
	// ErrDecode marks malformed trade frames.
	ErrDecode = errors.New("feed: decode error")
	// ErrUnknownSymbol marks symbols without a known base/quote split.
	ErrUnknownSymbol = errors.New("feed: unknown symbol")
)

// DecodeError carries the raw values of a trade frame that failed to parse.
type DecodeError struct {
	Symbol string
	Raw    string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("feed: decode symbol=%q price=%q: %v", e.Symbol, e.Raw, e.Err)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
func (e *DecodeError) Unwrap() error        { return e.Err }

// tradeEvent holds the only two fields the relay needs from a trade frame.
type tradeEvent struct {
	Symbol *string          `json:"s"`
	Price  json.RawMessage  `json:"p"`
	Data   *json.RawMessage `json:"data"` // combined-stream wrapper
}

// SubscriptionRequest is sent once per upstream connection.
type SubscriptionRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// Decoder turns raw upstream frames into PriceTicks.
type Decoder struct {
	symbols *SymbolMapper
}

// NewDecoder returns a Decoder using m for symbol translation.
func NewDecoder(m *SymbolMapper) *Decoder {
	return &Decoder{symbols: m}
}

// Decode parses one frame received at at.
func (d *Decoder) Decode(data []byte, at time.Time) (domain.PriceTick, error) {
	var ev tradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.PriceTick{}, &DecodeError{Raw: truncate(data), Err: err}
	}
	if ev.Data != nil && ev.Symbol == nil {
		return d.Decode(*ev.Data, at)
	}
	if ev.Symbol == nil || len(ev.Price) == 0 || bytes.Equal(ev.Price, []byte("null")) {
		return domain.PriceTick{}, ErrNotTrade
	}

	raw := string(ev.Price)
	if ev.Price[0] == '"' {
		if err := json.Unmarshal(ev.Price, &raw); err != nil {
			return domain.PriceTick{}, &DecodeError{Symbol: *ev.Symbol, Raw: string(ev.Price), Err: err}
		}
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.PriceTick{}, &DecodeError{Symbol: *ev.Symbol, Raw: raw, Err: err}
	}

	sym, err := d.symbols.Translate(*ev.Symbol)
	if err != nil {
		return domain.PriceTick{}, err
	}

	tick, err := domain.NewPriceTick(sym, price, at)
	if err != nil {
		return domain.PriceTick{}, &DecodeError{Symbol: *ev.Symbol, Raw: raw, Err: err}
	}
	return tick, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
