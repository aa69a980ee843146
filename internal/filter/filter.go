// internal/filter/filter.go
//
// Package filter suppresses repeated prices. It owns the process-wide
// last-price cache.
package filter

import (
	"hash/fnv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/metrics"
)

// DefaultShards is the shard count used by New(0).
const DefaultShards = 16

type shard struct {
	mu   sync.Mutex
	last map[domain.Symbol]decimal.Decimal
}

// PriceFilter remembers the last accepted price of every symbol.
// Calls for different shards run in parallel; calls for the same symbol
// are serialized.
type PriceFilter struct {
	shards []*shard
}

// New creates an empty filter with n shards (DefaultShards if n <= 0).
func New(n int) *PriceFilter {
	if n <= 0 {
		n = DefaultShards
	}
	f := &PriceFilter{shards: make([]*shard, n)}
	for i := range f.shards {
		f.shards[i] = &shard{last: make(map[domain.Symbol]decimal.Decimal)}
	}
	return f
}

func (f *PriceFilter) shardFor(s domain.Symbol) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return f.shards[h.Sum32()%uint32(len(f.shards))]
}

// Accept reports whether tick carries a new price for its symbol and, if
// so, records it.
func (f *PriceFilter) Accept(tick domain.PriceTick) bool {
	return f.Apply(tick, nil)
}

// Apply is Accept that also runs onChange for accepted ticks while the
// symbol is still locked, so callers observe changes in acceptance order.
// onChange must not call back into the filter for the same symbol.
func (f *PriceFilter) Apply(tick domain.PriceTick, onChange func(domain.PriceTick)) bool {
	sh := f.shardFor(tick.Symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if prev, ok := sh.last[tick.Symbol]; ok && prev.Equal(tick.Price) {
		metrics.FilterDecisions.WithLabelValues("suppressed").Inc()
		return false
	}
	sh.last[tick.Symbol] = tick.Price
	metrics.FilterDecisions.WithLabelValues("accepted").Inc()
	if onChange != nil {
		onChange(tick)
	}
	return true
}
