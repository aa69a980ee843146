// internal/feed/client.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/metrics"
	"github.com/leraspizh/crypto-project/pkg/backoff"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

var tracer = otel.Tracer("relay/feed")

// Client streams trade ticks from the exchange WebSocket.
type Client struct {
	cfg         Config
	log         *logger.Logger
	dialer      *websocket.Dialer
	decoder     *Decoder
	streams     []string
	subscribeID atomic.Uint64
}

// New validates cfg and builds a Client.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	symbols := make([]domain.Symbol, 0, len(cfg.Symbols))
	streams := make([]string, 0, len(cfg.Symbols))
	for _, raw := range cfg.Symbols {
		s, err := domain.ParseSymbol(raw)
		if err != nil {
			return nil, fmt.Errorf("feed: %w", err)
		}
		symbols = append(symbols, s)
		streams = append(streams, s.TradeStream())
	}

	return &Client{
		cfg: cfg,
		log: log.Named("feed"),
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		decoder: NewDecoder(NewSymbolMapper(symbols, cfg.QuoteAssets)),
		streams: streams,
	}, nil
}

// Streams returns the subscribed channel names.
func (c *Client) Streams() []string { return append([]string(nil), c.streams...) }

// Run starts an independent connection loop and returns its tick channel.
// The loop reconnects on every transport failure and closes the channel
// once ctx is cancelled.
func (c *Client) Run(ctx context.Context) <-chan domain.PriceTick {
	out := make(chan domain.PriceTick, c.cfg.BufferSize)
	go c.run(ctx, out)
	return out
}

func (c *Client) run(ctx context.Context, out chan<- domain.PriceTick) {
	defer close(out)

	// config was validated in New
	policy, _ := backoff.NewPolicy("feed_reconnect", c.cfg.Reconnect)

	for {
		// 1) one connection attempt
		subscribed, err := c.stream(ctx, out)
		if ctx.Err() != nil {
			c.log.Info("feed: context cancelled, exiting")
			return
		}
		// 2) a subscribed session counts as recovery
		if subscribed {
			policy.Reset()
		}

		// 3) wait per policy, or give up
		metrics.FeedReconnects.Inc()
		c.log.Warn("feed: connection lost, reconnecting",
			zap.Error(err),
			zap.Int("failures", policy.Failures()+1),
			zap.String("strategy", policy.Strategy()),
		)
		if werr := policy.Wait(ctx, err); werr != nil {
			if ctx.Err() == nil {
				c.log.Error("feed: giving up", zap.Error(werr))
			}
			return
		}
	}
}

// stream runs one connection attempt. subscribed reports whether the
// subscription request went out; err is the reason the attempt ended.
func (c *Client) stream(ctx context.Context, out chan<- domain.PriceTick) (subscribed bool, err error) {
	// 1) dial
	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}

	connCtx, stop := context.WithCancel(ctx)
	defer stop()
	// Closing the socket unblocks ReadMessage as soon as ctx ends.
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	// 2) keepalive
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})
	go c.ping(connCtx, conn)

	// 3) subscribe
	id := c.subscribeID.Add(1)
	req := SubscriptionRequest{Method: "SUBSCRIBE", Params: c.streams, ID: id}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.SubscribeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return false, fmt.Errorf("feed: subscribe id=%d: %w", id, err)
	}
	c.log.Info("feed: subscribed", zap.Uint64("id", id), zap.Strings("streams", c.streams))

	// 4) read until the socket or ctx ends
	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("feed: read: %w", err)
		}
		received := time.Now()
		_ = conn.SetReadDeadline(received.Add(c.cfg.ReadTimeout))

		tick, ok := c.handle(data, received)
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := tracer.Start(ctx, "feed.dial",
		trace.WithAttributes(attribute.String("url", c.cfg.URL)))
	defer span.End()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		metrics.FeedConnects.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("feed: dial %s: %w", c.cfg.URL, err)
	}
	metrics.FeedConnects.WithLabelValues("ok").Inc()
	c.log.Info("feed: connected", zap.String("url", c.cfg.URL))
	return conn, nil
}

func (c *Client) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.ReadTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				c.log.Debug("feed: ping failed", zap.Error(err))
			}
		}
	}
}

// handle decodes one frame and logs what is skipped.
func (c *Client) handle(data []byte, at time.Time) (domain.PriceTick, bool) {
	tick, err := c.decoder.Decode(data, at)
	var de *DecodeError
	switch {
	case err == nil:
		metrics.FeedMessages.WithLabelValues("tick").Inc()
		return tick, true
	case errors.Is(err, ErrNotTrade):
		metrics.FeedMessages.WithLabelValues("ignored").Inc()
	case errors.Is(err, ErrUnknownSymbol):
		metrics.FeedMessages.WithLabelValues("unknown_symbol").Inc()
		c.log.Warn("feed: unknown symbol", zap.Error(err))
	case errors.As(err, &de):
		metrics.FeedMessages.WithLabelValues("decode_error").Inc()
		c.log.Error("feed: cannot decode trade",
			zap.String("symbol", de.Symbol),
			zap.String("raw_price", de.Raw),
			zap.Error(de.Err),
		)
	default:
		metrics.FeedMessages.WithLabelValues("decode_error").Inc()
		c.log.Error("feed: cannot decode trade", zap.Error(err))
	}
	return domain.PriceTick{}, false
}
