// internal/feed/symbols.go
package feed

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leraspizh/crypto-project/internal/domain"
)

// DefaultQuoteAssets are the quote currencies recognised when an upstream
// symbol is not one of the configured pairs.
var DefaultQuoteAssets = []string{"USDT", "FDUSD", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB", "EUR", "TRY"}

// SymbolMapper translates concatenated exchange symbols to canonical ones.
// Configured pairs are matched exactly; otherwise the longest known quote
// suffix wins.
type SymbolMapper struct {
	known  map[string]domain.Symbol
	quotes []string
}

// NewSymbolMapper builds a mapper. quotes are matched case-insensitively.
func NewSymbolMapper(symbols []domain.Symbol, quotes []string) *SymbolMapper {
	m := &SymbolMapper{known: make(map[string]domain.Symbol, len(symbols))}
	for _, s := range symbols {
		m.known[s.Upstream()] = s
	}
	for _, q := range quotes {
		if q = strings.ToUpper(strings.TrimSpace(q)); q != "" {
			m.quotes = append(m.quotes, q)
		}
	}
	sort.SliceStable(m.quotes, func(i, j int) bool { return len(m.quotes[i]) > len(m.quotes[j]) })
	return m
}

// Translate maps "BTCUSDT" to "BTC/USDT". It returns ErrUnknownSymbol when
// no split is known.
func (m *SymbolMapper) Translate(upstream string) (domain.Symbol, error) {
	u := strings.ToUpper(upstream)
	if s, ok := m.known[u]; ok {
		return s, nil
	}
	for _, q := range m.quotes {
		if len(u) > len(q) && strings.HasSuffix(u, q) {
			return domain.NewSymbol(u[:len(u)-len(q)], q), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSymbol, upstream)
}
