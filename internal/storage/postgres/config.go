// internal/storage/postgres/config.go
package postgres

import (
	"fmt"
	"time"

	"github.com/leraspizh/crypto-project/pkg/backoff"
)

// Config describes the PostgreSQL connection.
type Config struct {
	Enabled         bool           `mapstructure:"enabled"`
	DSN             string         `mapstructure:"dsn"`
	MaxConns        int32          `mapstructure:"max_conns"`
	MinConns        int32          `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration  `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool           `mapstructure:"auto_migrate"`
	Connect         backoff.Config `mapstructure:"connect"`
}

func (c *Config) applyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Connect.MaxElapsedTime <= 0 {
		c.Connect.MaxElapsedTime = 30 * time.Second
	}
}

// Validate checks the settings needed to connect.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DSN == "" {
		return fmt.Errorf("postgres: dsn is required")
	}
	if c.MinConns < 0 || (c.MaxConns > 0 && c.MinConns > c.MaxConns) {
		return fmt.Errorf("postgres: min_conns must be between 0 and max_conns")
	}
	return nil
}
