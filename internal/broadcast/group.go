// internal/broadcast/group.go
package broadcast

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/metrics"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

// DefaultQueueSize bounds every subscriber queue unless configured.
const DefaultQueueSize = 256

// Subscriber is one member of a Group. Its queue is closed by Leave.
type Subscriber struct {
	id      string
	send    chan domain.PriceTick
	dropped atomic.Uint64
}

// ID returns the id passed to Join.
func (s *Subscriber) ID() string { return s.id }

// C delivers published ticks until the subscriber leaves.
func (s *Subscriber) C() <-chan domain.PriceTick { return s.send }

// Dropped counts ticks discarded because the queue was full.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Group fans published ticks out to its members. Publish never blocks:
// a full member queue loses that tick for that member only.
type Group struct {
	name      string
	queueSize int
	log       *logger.Logger

	mu      sync.RWMutex
	members map[string]*Subscriber
}

// NewGroup creates an empty group.
func NewGroup(name string, queueSize int, log *logger.Logger) *Group {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Group{
		name:      name,
		queueSize: queueSize,
		log:       log.Named("broadcast").With(zap.String("group", name)),
		members:   make(map[string]*Subscriber),
	}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Join registers a new member. A previous member with the same id is
// evicted and its queue closed.
func (g *Group) Join(id string) *Subscriber {
	sub := &Subscriber{id: id, send: make(chan domain.PriceTick, g.queueSize)}

	g.mu.Lock()
	if old, ok := g.members[id]; ok {
		close(old.send)
		g.log.Warn("duplicate subscriber id, evicting previous", zap.String("subscriber", id))
	}
	g.members[id] = sub
	n := len(g.members)
	g.mu.Unlock()

	metrics.GroupMembers.WithLabelValues(g.name).Set(float64(n))
	g.log.Debug("joined", zap.String("subscriber", id), zap.Int("members", n))
	return sub
}

// Leave removes sub and closes its queue. Leaving twice is a no-op.
func (g *Group) Leave(sub *Subscriber) {
	if sub == nil {
		return
	}
	g.mu.Lock()
	cur, ok := g.members[sub.id]
	if !ok || cur != sub {
		g.mu.Unlock()
		return
	}
	delete(g.members, sub.id)
	close(sub.send)
	n := len(g.members)
	g.mu.Unlock()

	metrics.GroupMembers.WithLabelValues(g.name).Set(float64(n))
	g.log.Debug("left", zap.String("subscriber", sub.id), zap.Int("members", n))
}

// Publish offers tick to every current member and returns how many
// queues accepted it.
func (g *Group) Publish(tick domain.PriceTick) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	delivered := 0
	for _, sub := range g.members {
		select {
		case sub.send <- tick:
			delivered++
		default:
			sub.dropped.Add(1)
			metrics.BroadcastDrops.WithLabelValues(g.name).Inc()
			g.log.Debug("subscriber queue full, dropping tick",
				zap.String("subscriber", sub.id),
				zap.String("symbol", tick.Symbol.String()),
			)
		}
	}
	return delivered
}

// Len returns the current member count.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}
