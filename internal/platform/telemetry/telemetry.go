// Package telemetry exposes Prometheus metrics for the QR access service.
// Scan decisions are the security-relevant signal: every validator outcome is
// counted by denial reason so that a spike in AuthenticationFailure or
// TenantMismatch is visible without reading audit rows.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScanOutcomeGranted is the outcome label recorded for allowed scans. Denied
// scans are labeled with their denial reason.
const ScanOutcomeGranted = "granted"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	scanDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_scan_decisions_total",
			Help: "Scan validation outcomes by decision.",
		},
		[]string{"outcome"},
	)

	tokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qr_tokens_issued_total",
			Help: "Total QR registrations issued.",
		},
	)

	tokensRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qr_tokens_revoked_total",
			Help: "Total QR registrations revoked.",
		},
	)

	auditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qr_audit_write_failures_total",
			Help: "Audit writes that failed and forced a fail-closed denial.",
		},
	)
)

// Init registers all metrics with the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		scanDecisions,
		tokensIssued,
		tokensRevoked,
		auditWriteFailures,
	)
}

// Handler returns the Prometheus exposition handler.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// ObserveScanDecision counts one validator outcome ("granted" or a denial reason).
func ObserveScanDecision(outcome string) {
	scanDecisions.WithLabelValues(outcome).Inc()
}

// ObserveIssued counts one issued registration.
func ObserveIssued() { tokensIssued.Inc() }

// ObserveRevoked counts one revoked registration.
func ObserveRevoked() { tokensRevoked.Inc() }

// ObserveAuditFailure counts one failed audit write.
func ObserveAuditFailure() { auditWriteFailures.Inc() }

// Middleware instruments request counts and latency. The route template is
// used rather than the raw path so that ids do not explode label cardinality.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			status := strconv.Itoa(c.Response().Status)
			method := c.Request().Method

			httpRequestsTotal.WithLabelValues(method, path, status).Inc()
			httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
