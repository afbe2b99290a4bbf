// Package metrics provides usage tracking and cost accounting for LLM calls.
// It keeps a durable JSONL record stream for offline analysis and mirrors
// the operational counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "llmgate"
)

// LatencyBuckets defines histogram buckets for LLM call latency (seconds).
// LLM calls are slow; the tail buckets go well past a minute.
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1.0, 1.5, 2.0, 2.5, 3.0, 4.0, 5.0,
	7.5, 10.0, 15.0, 20.0, 30.0, 60.0, 120.0, 180.0, 300.0,
}

var (
	// RequestsTotal counts completed calls by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "use_case", "outcome"},
	)

	// RequestLatency tracks provider call latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "LLM request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// InputTokens counts input tokens sent to providers.
	InputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_tokens_total",
			Help:      "Total input tokens",
		},
		[]string{"provider", "model"},
	)

	// OutputTokens counts output tokens received from providers.
	OutputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_tokens_total",
			Help:      "Total output tokens",
		},
		[]string{"provider", "model"},
	)

	// SpendTotal tracks total spend in USD.
	SpendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_usd_total",
			Help:      "Total spend in USD",
		},
		[]string{"provider", "model"},
	)

	// CacheHits counts requests served from the response cache.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Requests served from the response cache",
		},
		[]string{"provider"},
	)

	// CacheMisses counts cache lookups that went to a provider.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache lookups that missed",
		},
		[]string{"provider"},
	)

	// RateLimitDenials counts rejected requests per exhausted window.
	RateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Requests denied by the rate limiter",
		},
		[]string{"window"},
	)

	// CircuitBreakerRejections counts requests blocked by an open breaker.
	CircuitBreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Requests rejected by an open circuit breaker",
		},
		[]string{"provider"},
	)

	// CircuitBreakerState exposes the current breaker state per provider
	// (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)
)
