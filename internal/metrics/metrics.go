// Package metrics provides Prometheus metrics for the beatmap analyzer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatmapanalyzer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beatmapanalyzer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Resolution pipeline metrics
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatmapanalyzer_resolutions_total",
			Help: "Beatmap resolutions by outcome (cache_hit, cache_miss, mutable, error)",
		},
		[]string{"outcome"},
	)

	remoteFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatmapanalyzer_remote_fetches_total",
			Help: "Beatmap file downloads from the remote origin",
		},
		[]string{"status"},
	)

	remoteFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beatmapanalyzer_remote_fetch_duration_seconds",
			Help:    "Time spent downloading beatmap files",
			Buckets: prometheus.DefBuckets,
		},
	)

	remoteBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beatmapanalyzer_remote_bytes_downloaded_total",
			Help: "Total bytes downloaded from the remote origin",
		},
	)

	fetchesDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beatmapanalyzer_fetches_deduplicated_total",
			Help: "Fetches that joined an in-flight download for the same beatmap",
		},
	)

	// Computation metrics
	computationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatmapanalyzer_computations_total",
			Help: "Statistics derivations and pattern analyses by kind and result",
		},
		[]string{"kind", "result"},
	)

	computationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beatmapanalyzer_computation_duration_seconds",
			Help:    "Time spent parsing and evaluating resolved maps",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"kind"},
	)

	// Catalog metrics
	catalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatmapanalyzer_catalog_requests_total",
			Help: "Catalog lookups by result",
		},
		[]string{"result"},
	)

	catalogRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beatmapanalyzer_catalog_request_duration_seconds",
			Help:    "Catalog lookup duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beatmapanalyzer_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Storage backend metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beatmapanalyzer_storage_operation_duration_seconds",
			Help:    "Cache storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatmapanalyzer_storage_operations_total",
			Help: "Total cache storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beatmapanalyzer_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordResolution records the outcome of one resolution.
func RecordResolution(outcome string) {
	resolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRemoteFetch records a download attempt. status is the HTTP status
// code, or 0 for transport failures.
func RecordRemoteFetch(status int, bytes int64, duration time.Duration) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	remoteFetchesTotal.WithLabelValues(label).Inc()
	remoteFetchDuration.Observe(duration.Seconds())
	remoteBytesDownloaded.Add(float64(bytes))
}

// RecordDeduplicatedFetch records a fetch that shared another caller's result.
func RecordDeduplicatedFetch() {
	fetchesDeduplicated.Inc()
}

// RecordComputation records one evaluation of a resolved map. kind is
// "details" or an analysis mode; failed means the map did not parse.
func RecordComputation(kind string, failed bool, duration time.Duration) {
	result := "success"
	if failed {
		result = "parse_error"
	}
	computationsTotal.WithLabelValues(kind, result).Inc()
	computationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCatalogRequest records a catalog lookup.
func RecordCatalogRequest(success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	catalogRequestsTotal.WithLabelValues(result).Inc()
	catalogRequestDuration.Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the gauge for the named breaker.
func SetCircuitBreakerState(name string, state float64) {
	circuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordStorageOperation records a cache backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
// Requests are labelled by their ServeMux pattern to keep beatmap IDs out of
// the label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
