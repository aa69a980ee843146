// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leraspizh/crypto-project/internal/broadcast"
	"github.com/leraspizh/crypto-project/internal/config"
	"github.com/leraspizh/crypto-project/internal/feed"
	"github.com/leraspizh/crypto-project/internal/filter"
	"github.com/leraspizh/crypto-project/internal/metrics"
	"github.com/leraspizh/crypto-project/internal/relay"
	"github.com/leraspizh/crypto-project/internal/storage"
	transport "github.com/leraspizh/crypto-project/internal/transport/http"
	"github.com/leraspizh/crypto-project/pkg/httpserver"
	"github.com/leraspizh/crypto-project/pkg/logger"
	"github.com/leraspizh/crypto-project/pkg/telemetry"
)

// Run starts the relay and blocks until ctx is cancelled or a component
// fails.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	metrics.Register(nil)

	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.WithoutCancel(ctx)) }, log)

	// 1) Storage
	st, err := openStorage(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer st.close(ctx, log)
	recorder := storage.NewRecorder(st.sink, cfg.Storage.Recorder, log)

	// 2) Upstream feed and relay
	feedClient, err := feed.New(cfg.Binance, log)
	if err != nil {
		return fmt.Errorf("feed init: %w", err)
	}
	layer := broadcast.NewLayer(cfg.Broadcast.QueueSize, log)
	group := layer.Group(cfg.Relay.Group)
	prices := filter.New(filter.DefaultShards)

	rel, err := relay.New(cfg.Relay, func() *relay.Pipeline {
		return relay.NewPipeline(feedClient, prices, group, recorder, log)
	}, log)
	if err != nil {
		return fmt.Errorf("relay init: %w", err)
	}
	closeRelay := func() error { rel.Close(); return nil }

	// 3) HTTP
	handler := transport.NewHandler(st.history, group, rel, transport.Options{
		Symbols:        cfg.Binance.Symbols,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Session:        cfg.Session,
		Latest:         st.latest,
	}, log)
	routes := transport.Routes(handler,
		httpserver.RequestID(),
		httpserver.Recover(log),
		httpserver.Metrics(transport.RoutePattern),
		httpserver.Logging(log),
		httpserver.CORS(cfg.HTTP.AllowedOrigins),
	)
	httpSrv, err := httpserver.New(cfg.HTTP, routes, st.ready(ctx), log)
	if err != nil {
		_ = closeRelay()
		return fmt.Errorf("httpserver init: %w", err)
	}

	log.Info("relay starting",
		zap.String("mode", cfg.Relay.Mode),
		zap.Strings("symbols", cfg.Binance.Symbols),
		zap.Strings("streams", feedClient.Streams()),
		zap.Strings("sinks", st.names),
	)

	// The recorder outlives the relay so ticks accepted during shutdown
	// are still flushed.
	recCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRecorder()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(gctx) })
	g.Go(func() error { return recorder.Run(recCtx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownSafe(ctx, "relay", closeRelay, log)
		stopRecorder()
		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("relay stopped by context")
			return nil
		}
		return err
	}
	return nil
}

// shutdownSafe wraps a Close/Shutdown call with logging.
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Info(fmt.Sprintf("%s: shutting down", name))
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(fmt.Sprintf("%s shutdown error", name), zap.Error(err))
	} else {
		log.WithContext(ctx).Info(fmt.Sprintf("%s: shutdown complete", name))
	}
}
