// internal/relay/pipeline.go
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/filter"
	"github.com/leraspizh/crypto-project/internal/metrics"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

// Feed produces ticks until ctx ends.
type Feed interface {
	Run(ctx context.Context) <-chan domain.PriceTick
}

// Publisher fans a tick out to subscribers.
type Publisher interface {
	Publish(tick domain.PriceTick) int
}

// Recorder persists ticks asynchronously.
type Recorder interface {
	Enqueue(tick domain.PriceTick) bool
}

// Pipeline wires feed -> filter -> (recorder, publisher).
type Pipeline struct {
	feed     Feed
	filter   *filter.PriceFilter
	group    Publisher
	recorder Recorder
	log      *logger.Logger
}

// NewPipeline builds a pipeline. recorder may be nil.
func NewPipeline(feed Feed, f *filter.PriceFilter, group Publisher, recorder Recorder, log *logger.Logger) *Pipeline {
	return &Pipeline{feed: feed, filter: f, group: group, recorder: recorder, log: log.Named("pipeline")}
}

// Run consumes the feed until ctx is cancelled. Nothing is recorded or
// published once ctx is done, even if ticks are still buffered.
func (p *Pipeline) Run(ctx context.Context) {
	metrics.UpstreamPipelines.Inc()
	defer metrics.UpstreamPipelines.Dec()
	p.log.Info("pipeline started")
	defer p.log.Info("pipeline stopped")

	ticks := p.feed.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			p.filter.Apply(tick, p.emit)
		}
	}
}

func (p *Pipeline) emit(tick domain.PriceTick) {
	if p.recorder != nil {
		p.recorder.Enqueue(tick)
	}
	n := p.group.Publish(tick)
	metrics.TickLatency.Observe(time.Since(tick.ObservedAt).Seconds())
	p.log.Debug("price changed",
		zap.String("symbol", tick.Symbol.String()),
		zap.String("price", tick.Price.String()),
		zap.Int("delivered", n),
	)
}
