// internal/feed/config.go
package feed

import (
	"fmt"
	"time"

	"github.com/leraspizh/crypto-project/pkg/backoff"
)

// DefaultURL is the Binance raw-stream endpoint.
const DefaultURL = "wss://stream.binance.com:9443/ws"

// Config holds the upstream connection settings.
type Config struct {
	URL              string         `mapstructure:"ws_url"`
	Symbols          []string       `mapstructure:"symbols"`      // canonical, e.g. "BTC/USDT"
	QuoteAssets      []string       `mapstructure:"quote_assets"` // suffixes tried for unknown symbols
	BufferSize       int            `mapstructure:"buffer_size"`
	ReadTimeout      time.Duration  `mapstructure:"read_timeout"`
	HandshakeTimeout time.Duration  `mapstructure:"handshake_timeout"`
	SubscribeTimeout time.Duration  `mapstructure:"subscribe_timeout"`
	Reconnect        backoff.Config `mapstructure:"reconnect"`
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if len(c.QuoteAssets) == 0 {
		c.QuoteAssets = DefaultQuoteAssets
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = 5 * time.Second
	}
}

func (c Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("feed: at least one symbol is required")
	}
	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("feed: reconnect: %w", err)
	}
	return nil
}
