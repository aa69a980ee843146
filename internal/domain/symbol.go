// internal/domain/symbol.go
package domain

import (
	"fmt"
	"strings"
)

// SymbolSeparator splits base and quote asset in the canonical form.
const SymbolSeparator = "/"

// Symbol is a canonical trading pair such as "BTC/USDT".
type Symbol string

// NewSymbol joins base and quote into the canonical upper-case form.
func NewSymbol(base, quote string) Symbol {
	return Symbol(strings.ToUpper(base) + SymbolSeparator + strings.ToUpper(quote))
}

// ParseSymbol accepts "BTC/USDT" (any case) and rejects anything without
// exactly one separator and two non-empty assets.
func ParseSymbol(s string) (Symbol, error) {
	base, quote, ok := strings.Cut(strings.TrimSpace(s), SymbolSeparator)
	if !ok || base == "" || quote == "" || strings.Contains(quote, SymbolSeparator) {
		return "", fmt.Errorf("domain: invalid symbol %q, want BASE/QUOTE", s)
	}
	return NewSymbol(base, quote), nil
}

// Base returns the base asset ("BTC").
func (s Symbol) Base() string {
	base, _, _ := strings.Cut(string(s), SymbolSeparator)
	return base
}

// Quote returns the quote asset ("USDT").
func (s Symbol) Quote() string {
	_, quote, _ := strings.Cut(string(s), SymbolSeparator)
	return quote
}

// Upstream returns the concatenated exchange form ("BTCUSDT").
func (s Symbol) Upstream() string {
	return s.Base() + s.Quote()
}

// TradeStream returns the exchange trade channel name ("btcusdt@trade").
func (s Symbol) TradeStream() string {
	return strings.ToLower(s.Upstream()) + "@trade"
}

func (s Symbol) String() string { return string(s) }
