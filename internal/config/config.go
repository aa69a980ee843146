// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/feed"
	"github.com/leraspizh/crypto-project/internal/relay"
	"github.com/leraspizh/crypto-project/internal/session"
	"github.com/leraspizh/crypto-project/internal/storage"
	"github.com/leraspizh/crypto-project/internal/storage/kafkasink"
	"github.com/leraspizh/crypto-project/internal/storage/postgres"
	"github.com/leraspizh/crypto-project/internal/storage/redis"
	"github.com/leraspizh/crypto-project/pkg/httpserver"
	"github.com/leraspizh/crypto-project/pkg/logger"
	"github.com/leraspizh/crypto-project/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_HTTP_ADDR.
const EnvPrefix = "RELAY"

// -----------------------------------------------------------------------------
// Structures
// -----------------------------------------------------------------------------

// Config holds every setting of the relay.
type Config struct {
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Binance        feed.Config       `mapstructure:"binance"`
	Relay          relay.Config      `mapstructure:"relay"`
	Broadcast      BroadcastConfig   `mapstructure:"broadcast"`
	Session        session.Config    `mapstructure:"session"`
	Storage        StorageConfig     `mapstructure:"storage"`
	HTTP           httpserver.Config `mapstructure:"http"`
	Telemetry      telemetry.Config  `mapstructure:"telemetry"`
	Logging        logger.Config     `mapstructure:"logging"`
}

type BroadcastConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// StorageConfig selects the sinks. The in-memory ring is always on.
type StorageConfig struct {
	MemoryCapacity int                    `mapstructure:"memory_capacity"`
	Recorder       storage.RecorderConfig `mapstructure:"recorder"`
	Postgres       postgres.Config        `mapstructure:"postgres"`
	Redis          redis.Config           `mapstructure:"redis"`
	Kafka          kafkasink.Config       `mapstructure:"kafka"`
}

// -----------------------------------------------------------------------------
// Loader
// -----------------------------------------------------------------------------

// Load reads defaults, then the optional file at path, then RELAY_* env
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook,
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &cfg,
		DecodeHook:       decodeHook,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.ServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "price-relay")
	v.SetDefault("service_version", "v1.0.0")

	// Binance
	v.SetDefault("binance.ws_url", feed.DefaultURL)
	v.SetDefault("binance.symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("binance.quote_assets", feed.DefaultQuoteAssets)
	v.SetDefault("binance.buffer_size", 100)
	v.SetDefault("binance.read_timeout", "30s")
	v.SetDefault("binance.handshake_timeout", "10s")
	v.SetDefault("binance.subscribe_timeout", "5s")
	v.SetDefault("binance.reconnect.strategy", "fixed")
	v.SetDefault("binance.reconnect.delay", "5s")
	v.SetDefault("binance.reconnect.initial_interval", "1s")
	v.SetDefault("binance.reconnect.multiplier", 2.0)
	v.SetDefault("binance.reconnect.randomization_factor", 0.5)
	v.SetDefault("binance.reconnect.max_interval", "30s")
	v.SetDefault("binance.reconnect.max_elapsed_time", "0s")

	// Relay
	v.SetDefault("relay.mode", relay.ModeShared)
	v.SetDefault("relay.idle_grace", "10s")
	v.SetDefault("relay.group", relay.DefaultGroup)
	v.SetDefault("relay.restart_delay", "5s")
	v.SetDefault("broadcast.queue_size", 256)

	// Session
	v.SetDefault("session.write_timeout", "10s")
	v.SetDefault("session.ping_interval", "54s")
	v.SetDefault("session.pong_wait", "60s")
	v.SetDefault("session.max_message_size", 4096)

	// Storage
	v.SetDefault("storage.memory_capacity", storage.DefaultMemoryCapacity)
	v.SetDefault("storage.recorder.queue_size", 1024)
	v.SetDefault("storage.recorder.write_timeout", "3s")

	v.SetDefault("storage.postgres.enabled", false)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.postgres.auto_migrate", true)
	v.SetDefault("storage.postgres.connect.max_elapsed_time", "1m")

	v.SetDefault("storage.redis.enabled", false)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "3s")

	v.SetDefault("storage.kafka.enabled", false)
	v.SetDefault("storage.kafka.topic", kafkasink.DefaultTopic)
	v.SetDefault("storage.kafka.brokers", []string{})
	v.SetDefault("storage.kafka.required_acks", "all")
	v.SetDefault("storage.kafka.compression", "none")
	v.SetDefault("storage.kafka.timeout", "5s")

	// HTTP
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.healthz_path", "/healthz")
	v.SetDefault("http.readyz_path", "/readyz")
	v.SetDefault("http.allowed_origins", []string{})

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "otel-collector:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sampler_ratio", 1.0)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)
}

// stringToBoolHook parses "true"/"false" coming from the environment.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}

	// Binance
	if c.Binance.URL == "" {
		return fmt.Errorf("binance.ws_url is required")
	}
	if len(c.Binance.Symbols) == 0 {
		return fmt.Errorf("binance.symbols must contain at least one entry")
	}
	for _, s := range c.Binance.Symbols {
		if _, err := domain.ParseSymbol(s); err != nil {
			return fmt.Errorf("binance.symbols: %w", err)
		}
	}
	if c.Binance.ReadTimeout <= 0 {
		return fmt.Errorf("binance.read_timeout must be > 0")
	}
	if c.Binance.SubscribeTimeout <= 0 {
		return fmt.Errorf("binance.subscribe_timeout must be > 0")
	}
	if err := c.Binance.Reconnect.Validate(); err != nil {
		return fmt.Errorf("binance.reconnect: %w", err)
	}

	// Relay
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay.mode: %w", err)
	}
	if c.Relay.IdleGrace < 0 {
		return fmt.Errorf("relay.idle_grace must be >= 0")
	}
	if c.Relay.RestartDelay < 0 {
		return fmt.Errorf("relay.restart_delay must be >= 0")
	}
	if c.Broadcast.QueueSize < 0 {
		return fmt.Errorf("broadcast.queue_size must be >= 0")
	}

	// Storage
	if c.Storage.Postgres.Enabled {
		if err := c.Storage.Postgres.Validate(); err != nil {
			return fmt.Errorf("storage.postgres: %w", err)
		}
	}
	if c.Storage.Redis.Enabled {
		if err := c.Storage.Redis.Validate(); err != nil {
			return fmt.Errorf("storage.redis: %w", err)
		}
	}
	if c.Storage.Kafka.Enabled {
		if err := c.Storage.Kafka.Validate(); err != nil {
			return fmt.Errorf("storage.kafka: %w", err)
		}
	}

	// HTTP
	if err := validateHTTP(&c.HTTP); err != nil {
		return err
	}

	// Telemetry
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}
	return nil
}

func validateHTTP(h *httpserver.Config) error {
	if h.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	durations := map[string]time.Duration{
		"http.read_timeout":     h.ReadTimeout,
		"http.write_timeout":    h.WriteTimeout,
		"http.idle_timeout":     h.IdleTimeout,
		"http.shutdown_timeout": h.ShutdownTimeout,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}
	paths := map[string]string{
		"http.metrics_path": h.MetricsPath,
		"http.healthz_path": h.HealthzPath,
		"http.readyz_path":  h.ReadyzPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Debug print
// -----------------------------------------------------------------------------

// Print dumps the configuration as JSON with secrets masked.
func (c *Config) Print() {
	cp := *c
	if cp.Storage.Postgres.DSN != "" {
		cp.Storage.Postgres.DSN = "***"
	}
	if cp.Storage.Redis.Password != "" {
		cp.Storage.Redis.Password = "***"
	}
	b, _ := json.MarshalIndent(cp, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}
