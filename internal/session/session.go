// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/broadcast"
	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/metrics"
	"github.com/leraspizh/crypto-project/internal/relay"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

// State is the lifecycle stage of a Session.
type State int32

const (
	Connecting State = iota
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config tunes the subscriber connection.
type Config struct {
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
}

// Session streams price updates of one broadcast group to one subscriber.
type Session struct {
	id    string
	conn  *websocket.Conn
	group *broadcast.Group
	relay relay.Relay
	cfg   Config
	log   *logger.Logger

	state atomic.Int32

	mu      sync.Mutex // guards sub and release against a concurrent Close
	sub     *broadcast.Subscriber
	release func()

	closeOnce sync.Once
	done      chan struct{}
}

// New wraps an upgraded connection. Nothing happens until Serve.
func New(conn *websocket.Conn, group *broadcast.Group, rel relay.Relay, cfg Config, log *logger.Logger) *Session {
	cfg.ApplyDefaults()
	id := uuid.NewString()
	return &Session{
		id:    id,
		conn:  conn,
		group: group,
		relay: rel,
		cfg:   cfg,
		log:   log.Named("session").With(zap.String("session_id", id)),
		done:  make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Serve joins the group, attaches the upstream and writes updates until
// the peer goes away, a write fails or ctx ends. It always closes the
// session before returning.
func (s *Session) Serve(ctx context.Context) error {
	defer s.Close()

	s.mu.Lock()
	if s.State() == Closed {
		s.mu.Unlock()
		return nil
	}
	s.sub = s.group.Join(s.id)
	s.release = s.relay.Attach()
	s.state.Store(int32(Streaming))
	sub := s.sub
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()
	s.log.Info("session streaming",
		zap.String("group", s.group.Name()),
		zap.String("remote", s.conn.RemoteAddr().String()),
	)

	peerGone := make(chan struct{})
	go s.readLoop(peerGone)

	err := s.writeLoop(ctx, sub, peerGone)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.log.Info("session ended")
		return nil
	default:
		s.log.Info("session ended", zap.Error(err))
		return err
	}
}

// readLoop discards inbound frames; it exists to process control frames
// and to notice the peer going away.
func (s *Session) readLoop(peerGone chan<- struct{}) {
	defer close(peerGone)

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("session read failed", zap.Error(err))
			}
			return
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, sub *broadcast.Subscriber, peerGone <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-peerGone:
			return nil
		case tick, ok := <-sub.C():
			if !ok {
				// Close leaves the group too; only a group-side removal is an eviction.
				select {
				case <-s.done:
					return nil
				default:
				}
				return errors.New("session: evicted from group")
			}
			if err := s.deliver(tick); err != nil {
				return err
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("session: ping: %w", err)
			}
		}
	}
}

func (s *Session) deliver(tick domain.PriceTick) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteJSON(domain.NewPriceUpdate(tick)); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// Close leaves the group, releases the upstream and closes the socket.
// Safe to call more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := State(s.state.Swap(int32(Closed)))
		sub, release := s.sub, s.release
		s.mu.Unlock()
		close(s.done)

		if sub != nil {
			s.group.Leave(sub)
		}
		if release != nil {
			release()
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
		s.log.Debug("session closed", zap.Stringer("from", prev))
	})
}
