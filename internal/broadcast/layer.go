// internal/broadcast/layer.go
package broadcast

import (
	"sync"

	"github.com/leraspizh/crypto-project/pkg/logger"
)

// Layer hands out named groups, creating them on first use.
type Layer struct {
	queueSize int
	log       *logger.Logger

	mu     sync.Mutex
	groups map[string]*Group
}

// NewLayer returns a Layer whose groups use queueSize per subscriber.
func NewLayer(queueSize int, log *logger.Logger) *Layer {
	return &Layer{queueSize: queueSize, log: log, groups: make(map[string]*Group)}
}

// Group returns the group called name.
func (l *Layer) Group(name string) *Group {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[name]
	if !ok {
		g = NewGroup(name, l.queueSize, l.log)
		l.groups[name] = g
	}
	return g
}
