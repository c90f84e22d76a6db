// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the stapel gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stapel_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stapel_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)

	// BatchRunsTotal counts batch completion runs by final status.
	BatchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stapel_batch_runs_total",
			Help: "Batch runs",
		},
		[]string{"status"},
	)

	// BatchRunDuration records end-to-end batch run duration in seconds.
	BatchRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stapel_batch_run_duration_seconds",
			Help:    "Batch run duration",
			Buckets: LLMBuckets,
		},
		[]string{"model"},
	)

	// DispatchTasksTotal counts dispatched completion tasks by outcome.
	DispatchTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stapel_dispatch_tasks_total",
			Help: "Dispatched tasks",
		},
		[]string{"outcome"},
	)

	// DispatchWorkersActive tracks completion workers currently running.
	DispatchWorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stapel_dispatch_workers_active",
			Help: "Active dispatch workers",
		},
	)

	// ProviderRequestsTotal counts requests sent to backend LLM providers.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stapel_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records backend provider latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stapel_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stapel_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// StreamFramesTotal counts emitted stream frames by kind.
	StreamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stapel_stream_frames_total",
			Help: "Stream frames emitted",
		},
		[]string{"kind"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stapel_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)

	// AuthDecisionsTotal counts authentication outcomes by validator.
	AuthDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stapel_auth_decisions_total",
			Help: "Authentication decisions",
		},
		[]string{"method", "decision"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		BatchRunsTotal,
		BatchRunDuration,
		DispatchTasksTotal,
		DispatchWorkersActive,
		ProviderRequestsTotal,
		ProviderLatency,
		StreamingConnections,
		StreamFramesTotal,
		RateLimitRejectedTotal,
		AuthDecisionsTotal,
	)
}
