package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rentguard_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rentguard_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rentguard_build_info",
			Help: "Build information about rentguard",
		},
		[]string{"version", "go_version"},
	)

	// Rate limiting metrics
	RateLimitRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_rate_limit_requests_total",
			Help: "Total number of requests checked against rate limits",
		},
		[]string{"endpoint_class", "status"},
	)

	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_rate_limit_exceeded_total",
			Help: "Total number of requests that exceeded rate limits",
		},
		[]string{"endpoint_class"},
	)

	RateLimitActiveBuckets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rentguard_rate_limit_active_buckets",
			Help: "Number of token buckets currently held in memory",
		},
		[]string{"endpoint_class"},
	)

	RateLimitEvictedBuckets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_rate_limit_evicted_buckets_total",
			Help: "Total number of idle token buckets evicted",
		},
		[]string{"endpoint_class"},
	)

	RateLimitBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_rate_limit_backend_errors_total",
			Help: "Total number of rate limiter backend failures (requests admitted)",
		},
		[]string{"backend"},
	)

	// Identity metrics
	IdentityResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_identity_resolutions_total",
			Help: "Total number of bearer token resolutions by result",
		},
		[]string{"result"},
	)

	TokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rentguard_tokens_issued_total",
			Help: "Total number of identity tokens issued",
		},
	)

	// Audit metrics
	AuditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_audit_records_total",
			Help: "Total number of audited operation invocations",
		},
		[]string{"entity", "action", "outcome"},
	)

	AuditEmissionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_audit_emission_failures_total",
			Help: "Total number of audit records that could not be handed to the sink",
		},
		[]string{"reason"},
	)

	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_audit_writes_total",
			Help: "Total number of audit records written by the sink",
		},
		[]string{"sink", "status"},
	)

	AuditEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentguard_audit_dropped_total",
			Help: "Total number of audit records dropped before reaching the sink",
		},
		[]string{"sink", "reason"},
	)

	AuditWriterFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rentguard_audit_flush_duration_seconds",
			Help:    "Audit sink flush latencies in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"sink"},
	)

	AuditOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rentguard_audit_operation_duration_seconds",
			Help:    "Latency of audited business operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
