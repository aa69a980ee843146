// internal/storage/memory.go
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/domain"
)

// DefaultMemoryCapacity bounds the in-memory history.
const DefaultMemoryCapacity = 10000

// Memory keeps the latest records in a fixed-size ring.
type Memory struct {
	mu     sync.RWMutex
	buf    []PriceRecord
	next   int // slot for the next write
	size   int
	lastID int64
	now    func() time.Time
}

// NewMemory returns an empty ring holding up to capacity records.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{buf: make([]PriceRecord, capacity), now: time.Now}
}

func (m *Memory) Name() string { return "memory" }

// Record appends a record, evicting the oldest when full.
func (m *Memory) Record(_ context.Context, symbol domain.Symbol, price decimal.Decimal) (PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	rec := PriceRecord{ID: m.lastID, Symbol: symbol.String(), Price: price, Timestamp: m.now().UTC()}
	m.buf[m.next] = rec
	m.next = (m.next + 1) % len(m.buf)
	if m.size < len(m.buf) {
		m.size++
	}
	return rec, nil
}

// List returns up to limit records, newest first.
func (m *Memory) List(_ context.Context, limit int) ([]PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > m.size {
		limit = m.size
	}
	out := make([]PriceRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.buf)) % len(m.buf)
		out = append(out, m.buf[idx])
	}
	return out, nil
}

// Get finds a record that is still retained.
func (m *Memory) Get(_ context.Context, id int64) (PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	oldest := m.lastID - int64(m.size) + 1
	if id < oldest || id > m.lastID || m.size == 0 {
		return PriceRecord{}, ErrNotFound
	}
	back := int(m.lastID - id) // 0 = newest
	idx := (m.next - 1 - back + len(m.buf)) % len(m.buf)
	return m.buf[idx], nil
}

// Latest scans the retained records newest first.
func (m *Memory) Latest(_ context.Context) (map[string]PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]PriceRecord)
	for i := 1; i <= m.size; i++ {
		rec := m.buf[(m.next-i+len(m.buf))%len(m.buf)]
		if _, seen := out[rec.Symbol]; !seen {
			out[rec.Symbol] = rec
		}
	}
	return out, nil
}
