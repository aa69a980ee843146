// internal/storage/recorder.go
package storage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/metrics"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

var tracer = otel.Tracer("relay/storage")

// RecorderConfig tunes the asynchronous writer.
type RecorderConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c *RecorderConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

// Recorder decouples the relay from sink latency: Enqueue never blocks and
// a single goroutine (Run) writes ticks in order.
type Recorder struct {
	sink  Sink
	cfg   RecorderConfig
	log   *logger.Logger
	queue chan domain.PriceTick
}

// NewRecorder wraps sink.
func NewRecorder(sink Sink, cfg RecorderConfig, log *logger.Logger) *Recorder {
	cfg.applyDefaults()
	return &Recorder{
		sink:  sink,
		cfg:   cfg,
		log:   log.Named("recorder"),
		queue: make(chan domain.PriceTick, cfg.QueueSize),
	}
}

// Enqueue schedules tick for writing. It reports false if the queue was full.
func (r *Recorder) Enqueue(tick domain.PriceTick) bool {
	select {
	case r.queue <- tick:
		return true
	default:
		metrics.RecorderDrops.Inc()
		r.log.Warn("recorder queue full, dropping tick", zap.String("symbol", tick.Symbol.String()))
		return false
	}
}

// Run writes queued ticks until ctx is done, then flushes what is already
// queued and returns.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain(ctx)
			return nil
		case tick := <-r.queue:
			r.write(ctx, tick)
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case tick := <-r.queue:
			r.write(ctx, tick)
		default:
			return
		}
	}
}

// write is bounded by WriteTimeout only; shutdown does not abort it.
func (r *Recorder) write(ctx context.Context, tick domain.PriceTick) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "storage.record",
		trace.WithAttributes(attribute.String("symbol", tick.Symbol.String())))
	defer span.End()

	name := sinkName(r.sink)
	if _, err := r.sink.Record(ctx, tick.Symbol, tick.Price); err != nil {
		span.RecordError(err)
		metrics.SinkWrites.WithLabelValues(name, "error").Inc()
		r.log.Error("record failed",
			zap.String("symbol", tick.Symbol.String()),
			zap.String("price", tick.Price.String()),
			zap.Error(err),
		)
		return
	}
	metrics.SinkWrites.WithLabelValues(name, "ok").Inc()
}
