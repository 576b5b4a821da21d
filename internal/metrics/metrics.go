// Package metrics exposes Prometheus collectors for routing, quota, and
// stream activity. Package-level promauto vars register against the default
// registry; /metrics serves them through promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "model_broker"

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0,
}

var (
	// RequestsRouted counts routing decisions by winner and strategy.
	RequestsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_routed_total",
			Help:      "Routing decisions made, by provider, model, and strategy",
		},
		[]string{"provider", "model", "strategy"},
	)

	// RequestsFailed counts dispatches that exhausted all attempts.
	RequestsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Requests that failed after all dispatch attempts",
		},
		[]string{"reason"},
	)

	// Fallbacks counts dispatches served by the second-ranked candidate.
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Dispatches that fell back to the next-ranked candidate",
		},
		[]string{"from_provider", "to_provider"},
	)

	// RequestLatency tracks end-to-end dispatch latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "End-to-end dispatch latency in seconds",
			Buckets:   latencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// RequestCost accumulates actual spend per provider and model.
	RequestCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_cost_dollars_total",
			Help:      "Accumulated request cost in dollars",
		},
		[]string{"provider", "model"},
	)

	// QuotaRejections counts requests refused for user quota exhaustion.
	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Requests rejected because the user quota was exhausted",
		},
	)

	// PoolUtilization reports used/limit per credential pool.
	PoolUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_utilization_ratio",
			Help:      "Fraction of the daily pool limit consumed",
		},
		[]string{"pool", "provider"},
	)

	// OutcomeQueueDepth reports the async outcome queue backlog.
	OutcomeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outcome_queue_depth",
			Help:      "Outcomes waiting in the monitor queue",
		},
	)

	// OutcomesDropped counts outcomes evicted from a full monitor queue.
	OutcomesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_dropped_total",
			Help:      "Outcomes dropped because the monitor queue was full",
		},
	)

	// StreamChunks counts normalized chunks emitted to clients.
	StreamChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Normalized stream chunks emitted, by provider",
		},
		[]string{"provider"},
	)

	// AlertsActive reports unresolved monitoring alerts by severity.
	AlertsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts_active",
			Help:      "Unresolved monitoring alerts by severity",
		},
		[]string{"severity"},
	)
)
