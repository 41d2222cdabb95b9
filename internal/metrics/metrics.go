// Package metrics exposes the gateway's Prometheus instrumentation. Every
// failover, recovery action and parameter clamp increments a counter here;
// nothing in the pipeline is dropped silently.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of /v1/messages requests processed",
		},
		[]string{"provider", "model", "category", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_routing_decisions_total",
			Help: "Routing decisions by category and matched rule",
		},
		[]string{"category", "rule"},
	)

	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_failovers_total",
			Help: "Failovers to the next routing candidate",
		},
		[]string{"category", "from_provider"},
	)

	ParameterClampsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_parameter_clamps_total",
			Help: "Request parameters clamped to a provider's valid range",
		},
		[]string{"protocol", "parameter"},
	)

	ToolCallRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tool_call_recoveries_total",
			Help: "Embedded tool-call texts repaired into tool_use blocks",
		},
		[]string{"mode"},
	)

	ToolCallRecoveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tool_call_recovery_failures_total",
			Help: "Embedded tool-call candidates left untouched due to invalid JSON",
		},
		[]string{"mode"},
	)

	StopReasonInferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stop_reason_inferred_total",
			Help: "Responses whose missing stop reason was inferred",
		},
		[]string{"stop_reason"},
	)

	StreamDecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stream_decode_errors_total",
			Help: "Corrupt mid-stream frames in binary event streams",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Provider call failures by error type",
		},
		[]string{"provider", "error_type"},
	)

	ProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_provider_health",
			Help: "Provider health flag (1=healthy, 0=unhealthy)",
		},
		[]string{"provider"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Result cache misses",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_streams",
			Help: "Number of active SSE streams",
		},
	)
)

func RecordRequest(provider, model, category, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(provider, model, category, status).Inc()
	RequestDuration.WithLabelValues(provider, model).Observe(durationSec)
}

func RecordFailover(category, fromProvider string) {
	FailoversTotal.WithLabelValues(category, fromProvider).Inc()
}

func RecordClamp(protocol, parameter string) {
	ParameterClampsTotal.WithLabelValues(protocol, parameter).Inc()
}

func RecordRecovery(mode string) {
	ToolCallRecoveriesTotal.WithLabelValues(mode).Inc()
}

func RecordRecoveryFailure(mode string) {
	ToolCallRecoveryFailures.WithLabelValues(mode).Inc()
}

func RecordProviderError(provider, errorType string) {
	ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

func SetProviderHealth(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	ProviderHealth.WithLabelValues(provider).Set(v)
}
