package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts HTTP requests by method, path, status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickleball_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDurationSeconds measures request latency.
	RequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pickleball_http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// UpstreamRequestsTotal counts availability fetches by facility group and result.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickleball_upstream_requests_total",
			Help: "Upstream availability requests",
		},
		[]string{"facility_group", "result"},
	)

	UpstreamDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pickleball_upstream_request_duration_seconds",
			Help:    "Upstream availability request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"facility_group"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pickleball_upstream_breaker_state",
			Help: "Upstream circuit breaker state",
		},
	)

	SessionRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickleball_session_refreshes_total",
			Help: "CSRF session refresh attempts",
		},
		[]string{"result"},
	)

	// BackfillDatesTotal counts processed dates by outcome (success, failed, skipped).
	BackfillDatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickleball_backfill_dates_total",
			Help: "Backfill dates by outcome",
		},
		[]string{"outcome"},
	)

	BackfillRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pickleball_backfill_runs_total",
			Help: "Completed backfill runs",
		},
	)

	BackfillDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pickleball_backfill_duration_seconds",
			Help:    "Backfill run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	// CacheWritesTotal counts month file writes by result.
	CacheWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickleball_cache_writes_total",
			Help: "Monthly cache file writes",
		},
		[]string{"result"},
	)

	CacheMigrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pickleball_cache_migrations_total",
			Help: "Month files upgraded from the bookingDetails format",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDurationSeconds,
		UpstreamRequestsTotal,
		UpstreamDurationSeconds,
		BreakerState,
		SessionRefreshesTotal,
		BackfillDatesTotal,
		BackfillRunsTotal,
		BackfillDurationSeconds,
		CacheWritesTotal,
		CacheMigrationsTotal,
	)
}
