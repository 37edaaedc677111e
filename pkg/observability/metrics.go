package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Identity and policy metrics
	IdentityResolutionsTotal *prometheus.CounterVec
	AuthzDenialsTotal        *prometheus.CounterVec

	// Bulk operation metrics
	BulkOperationsRunning    prometheus.Gauge
	BulkOperationsTotal      *prometheus.CounterVec
	BulkItemsTotal           *prometheus.CounterVec
	BulkAdmissionRejected    prometheus.Counter
	BulkOperationDuration    *prometheus.HistogramVec
	BulkOperationsReconciled prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		IdentityResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memhub_identity_resolutions_total",
				Help: "Identity resolutions by credential source and outcome",
			},
			[]string{"source", "outcome"},
		),
		AuthzDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memhub_authz_denials_total",
				Help: "Policy denials by check and whether a personal access token was involved",
			},
			[]string{"check", "via_token"},
		),
		BulkOperationsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memhub_bulk_operations_running",
				Help: "Number of bulk operations currently executing",
			},
		),
		BulkOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memhub_bulk_operations_total",
				Help: "Bulk operations by type and terminal status",
			},
			[]string{"type", "status"},
		),
		BulkItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memhub_bulk_items_total",
				Help: "Bulk operation items by resource type and outcome",
			},
			[]string{"resource_type", "outcome"},
		),
		BulkAdmissionRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memhub_bulk_admission_rejected_total",
				Help: "Bulk operations rejected by the concurrency ceiling",
			},
		),
		BulkOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memhub_bulk_operation_duration_seconds",
				Help:    "Bulk operation wall time from start to terminal state",
				Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
			},
			[]string{"type"},
		),
		BulkOperationsReconciled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memhub_bulk_operations_reconciled_total",
				Help: "Abandoned running operations marked failed by reconciliation",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.IdentityResolutionsTotal,
		m.AuthzDenialsTotal,
		m.BulkOperationsRunning,
		m.BulkOperationsTotal,
		m.BulkItemsTotal,
		m.BulkAdmissionRejected,
		m.BulkOperationDuration,
		m.BulkOperationsReconciled,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelled by mux route template
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
