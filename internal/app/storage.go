// internal/app/storage.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/config"
	"github.com/leraspizh/crypto-project/internal/storage"
	"github.com/leraspizh/crypto-project/internal/storage/kafkasink"
	"github.com/leraspizh/crypto-project/internal/storage/postgres"
	"github.com/leraspizh/crypto-project/internal/storage/redis"
	"github.com/leraspizh/crypto-project/pkg/httpserver"
	"github.com/leraspizh/crypto-project/pkg/kafka/producer"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

const readyTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// storageSet is what the relay records to and what the history API reads.
type storageSet struct {
	sink    storage.Sink
	history storage.Reader
	latest  storage.LatestReader
	names   []string
	pingers map[string]pinger
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

// openStorage connects every enabled backend. Postgres serves history
// when enabled; otherwise the in-memory ring does and also records.
func openStorage(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (_ *storageSet, err error) {
	st := &storageSet{pingers: map[string]pinger{}}
	defer func() {
		if err != nil {
			st.close(ctx, log)
		}
	}()

	var sinks storage.Multi
	add := func(name string, s storage.Sink) {
		sinks = append(sinks, s)
		st.names = append(st.names, name)
	}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, namedCloser{"postgres", func() error { pg.Close(); return nil }})
		st.pingers["postgres"] = pg
		st.history = pg
		st.latest = pg
		add(pg.Name(), pg)
	} else {
		mem := storage.NewMemory(cfg.MemoryCapacity)
		st.history = mem
		st.latest = mem
		add(mem.Name(), mem)
	}

	if cfg.Redis.Enabled {
		rs, err := redis.New(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, namedCloser{"redis", rs.Close})
		st.pingers["redis"] = rs
		st.latest = rs
		add(rs.Name(), rs)
	}

	if cfg.Kafka.Enabled {
		prod, err := producer.New(ctx, cfg.Kafka.Producer, log)
		if err != nil {
			return nil, err
		}
		ks := kafkasink.New(prod, cfg.Kafka.Topic)
		st.closers = append(st.closers, namedCloser{"kafka", ks.Close})
		st.pingers["kafka"] = ks
		add(ks.Name(), ks)
	}

	if len(sinks) == 1 {
		st.sink = sinks[0]
	} else {
		st.sink = sinks
	}
	return st, nil
}

// ready pings every external backend.
func (st *storageSet) ready(ctx context.Context) httpserver.ReadyChecker {
	return func() error {
		pctx, cancel := context.WithTimeout(ctx, readyTimeout)
		defer cancel()
		var errs []error
		for name, p := range st.pingers {
			if err := p.Ping(pctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
		return errors.Join(errs...)
	}
}

// close shuts backends down in reverse order of opening.
func (st *storageSet) close(ctx context.Context, log *logger.Logger) {
	for i := len(st.closers) - 1; i >= 0; i-- {
		c := st.closers[i]
		shutdownSafe(ctx, c.name, c.fn, log)
	}
	st.closers = nil
	log.Debug("storage closed", zap.Strings("sinks", st.names))
}
