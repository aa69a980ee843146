// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// FeedConnects counts upstream dial attempts by status ("ok" | "error").
	FeedConnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "feed",
		Name:      "connects_total",
		Help:      "Upstream WebSocket connection attempts",
	}, []string{"status"})

	// FeedMessages counts inbound upstream frames by outcome.
	FeedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "feed",
		Name:      "messages_total",
		Help:      "Upstream messages by outcome (tick, ignored, decode_error, unknown_symbol)",
	}, []string{"outcome"})

	// FeedReconnects counts reconnect waits after an upstream failure.
	FeedReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Upstream reconnects",
	})

	// FilterDecisions counts filter results ("accepted" | "suppressed").
	FilterDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "filter",
		Name:      "decisions_total",
		Help:      "Price filter decisions",
	}, []string{"decision"})

	// BroadcastDrops counts messages dropped for a full subscriber queue.
	BroadcastDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "broadcast",
		Name:      "drops_total",
		Help:      "Messages dropped because a subscriber queue was full",
	}, []string{"group"})

	// GroupMembers tracks current members per group.
	GroupMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "broadcast",
		Name:      "members",
		Help:      "Current subscribers per group",
	}, []string{"group"})

	// ActiveSessions tracks open subscriber sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "session",
		Name:      "active",
		Help:      "Open subscriber sessions",
	})

	// UpstreamPipelines tracks running feed pipelines.
	UpstreamPipelines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "relay",
		Name:      "pipelines",
		Help:      "Running upstream pipelines",
	})

	// PipelineRestarts counts pipelines rebuilt after their feed gave up.
	PipelineRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "relay",
		Name:      "pipeline_restarts_total",
		Help:      "Pipelines restarted after the upstream feed gave up",
	})

	// SinkWrites counts sink writes by sink and status.
	SinkWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "storage",
		Name:      "writes_total",
		Help:      "Tick sink writes",
	}, []string{"sink", "status"})

	// RecorderDrops counts ticks dropped because the recorder queue was full.
	RecorderDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "storage",
		Name:      "recorder_drops_total",
		Help:      "Ticks dropped because the recorder queue was full",
	})

	// TickLatency observes receipt-to-publish latency.
	TickLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relay",
		Subsystem: "pipeline",
		Name:      "publish_latency_seconds",
		Help:      "Latency from upstream receipt to group publish (seconds)",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)

// Register registers every collector once. Without arguments the default
// registerer is used.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			FeedConnects,
			FeedMessages,
			FeedReconnects,
			FilterDecisions,
			BroadcastDrops,
			GroupMembers,
			ActiveSessions,
			UpstreamPipelines,
			PipelineRestarts,
			SinkWrites,
			RecorderDrops,
			TickLatency,
		)
	})
}
