// https://github.com/relaysync/core

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides comprehensive instrumentation for:
// - Database query performance (DuckDB)
// - API endpoint latency and throughput
// - Event pipeline throughput (Ingestor enqueue, Worker apply/retry)
// - Node health (WAL depth metrics are registered by internal/wal itself)
// - Cache efficiency
// - WebSocket connections

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets, // 0.005s, 0.01s, 0.025s, 0.05s, 0.1s, 0.25s, 0.5s, 1s, 2.5s, 5s, 10s
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBConnectionPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duckdb_connection_pool_size",
			Help: "Current number of database connections in use",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Event Pipeline Metrics (Ingestor)
	EnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_enqueue_total",
			Help: "Total number of pending_events rows enqueued or coalesced, by event type",
		},
		[]string{"event_type"},
	)

	EnqueueBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_enqueue_batch_size",
			Help:    "Number of intents committed per webhook in one EnqueueBatch call",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		},
	)

	// Event Pipeline Metrics (Sync Worker)
	WorkerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_tick_duration_seconds",
			Help:    "Duration of one Sync Worker tick (lease through all leased events)",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	WorkerLeaseSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_lease_size",
			Help:    "Number of events leased per Sync Worker tick",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	EventOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_event_outcome_total",
			Help: "Total number of pipeline runs finalized, by outcome kind",
		},
		[]string{"outcome"}, // applied, skipped, retry, wait_item, failed
	)

	ApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_apply_duration_seconds",
			Help:    "Duration of one Node Client apply call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_retry_attempts_total",
			Help: "Total number of retry/wait_item outcomes, by reason",
		},
		[]string{"reason"},
	)

	// Node Health Metrics
	NodeHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "node_health_status",
			Help: "Current node reachability as observed by the health probe (1=healthy, 0=unhealthy)",
		},
		[]string{"node"},
	)

	NodeUnauthorizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_unauthorized_total",
			Help: "Total number of times a node's readiness was degraded due to an Unauthorized response",
		},
		[]string{"node"},
	)

	// Cache Metrics (resolver L1/L2, Identity/Item mapping)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "user_mapping", "item_cache"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry)",
		},
		[]string{"cache_type"},
	)

	// WebSocket Metrics (dashboard event stream)
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_received_total",
			Help: "Total number of WebSocket messages received",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Circuit Breaker Metrics (per-node Node Client)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordEnqueue records one pending_events row having been enqueued or
// coalesced, by event type, along with the fan-out batch size from the
// webhook that produced it.
func RecordEnqueue(eventType string, batchSize int) {
	EnqueueTotal.WithLabelValues(eventType).Inc()
	EnqueueBatchSize.Observe(float64(batchSize))
}

// RecordWorkerTick records one Sync Worker tick's duration and the
// number of events it leased.
func RecordWorkerTick(duration time.Duration, leased int) {
	WorkerTickDuration.Observe(duration.Seconds())
	WorkerLeaseSize.Observe(float64(leased))
}

// RecordEventOutcome records one pipeline run's terminal or
// transitional classification.
func RecordEventOutcome(outcome string) {
	EventOutcomeTotal.WithLabelValues(outcome).Inc()
}

// RecordApplyDuration records the latency of one Node Client apply call.
func RecordApplyDuration(node string, duration time.Duration) {
	ApplyDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordRetry records a retry or wait_item outcome by its reason.
func RecordRetry(reason string) {
	RetryAttemptsTotal.WithLabelValues(reason).Inc()
}

// UpdateNodeHealth refreshes the health gauge for one node, as observed
// by the NodeSupervisor's periodic probe.
func UpdateNodeHealth(node string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	NodeHealthStatus.WithLabelValues(node).Set(value)
}

// RecordNodeUnauthorized records a node's readiness being degraded due
// to an Unauthorized response from its Node Client.
func RecordNodeUnauthorized(node string) {
	NodeUnauthorizedTotal.WithLabelValues(node).Inc()
}
