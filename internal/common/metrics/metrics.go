package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	// HTTPRequestDuration tracks request latency by method, path, and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Database metrics
var (
	// DBTransactionDuration tracks transaction duration by operation label.
	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_transaction_duration_seconds",
			Help:    "Duration of database transactions in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)
)

// Remote collaborator metrics
var (
	// RemoteCallDuration tracks outbound calls by service, operation, and outcome.
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_call_duration_seconds",
			Help:    "Duration of calls to collaborating services in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "operation", "outcome"},
	)
)

// Cache metrics
var (
	// CacheLookups counts read-through cache lookups by key family and result.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"family", "result"},
	)
)

// Saga metrics
var (
	// SagaStepFailures counts forward steps that aborted a saga.
	SagaStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_failures_total",
			Help: "Total number of saga forward step failures",
		},
		[]string{"saga", "step"},
	)

	// SagaCompensations counts compensation executions by outcome.
	SagaCompensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "Total number of saga compensations executed",
		},
		[]string{"saga", "compensation", "outcome"},
	)

	// SagaInFlightCompensations gauges compensation batches still running.
	SagaInFlightCompensations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_compensations_in_flight",
			Help: "Number of compensation batches currently running",
		},
	)

	// SagaRecovered counts stale intents handled by the recovery sweep.
	SagaRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_recovered_total",
			Help: "Total number of stale sagas processed by the recovery sweep",
		},
		[]string{"outcome"},
	)
)

// Search index metrics
var (
	// IndexEventsPublished counts search index sync events by type and outcome.
	IndexEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_events_published_total",
			Help: "Total number of search index sync events published",
		},
		[]string{"event_type", "outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
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

// Middleware returns an HTTP middleware that records request metrics.
// Side effects: records Prometheus metrics and reads the current time.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		status := strconv.Itoa(rw.statusCode)
		path := normalizePath(r.URL.Path)

		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// normalizePath replaces numeric path segments with {id} to bound label cardinality.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if _, err := strconv.ParseInt(seg, 10, 64); err == nil {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

// RecordTransactionDuration records a transaction duration.
// Side effects: records a Prometheus metric.
func RecordTransactionDuration(operation string, duration time.Duration) {
	DBTransactionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRemoteCall records the duration of one outbound call.
// Side effects: records a Prometheus metric.
func RecordRemoteCall(service, operation string, err error, duration time.Duration) {
	RemoteCallDuration.WithLabelValues(service, operation, outcome(err)).Observe(duration.Seconds())
}

// RecordCacheLookup counts a cache hit or miss for a key family.
// Side effects: records a Prometheus metric.
func RecordCacheLookup(family string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(family, result).Inc()
}

// RecordSagaStepFailure counts a forward step that aborted its saga.
// Side effects: records a Prometheus metric.
func RecordSagaStepFailure(saga, step string) {
	SagaStepFailures.WithLabelValues(saga, step).Inc()
}

// RecordCompensation counts one compensation execution.
// Side effects: records a Prometheus metric.
func RecordCompensation(saga, compensation string, err error) {
	SagaCompensations.WithLabelValues(saga, compensation, outcome(err)).Inc()
}

// RecordSagaRecovered counts a stale intent processed by the recovery sweep.
// Side effects: records a Prometheus metric.
func RecordSagaRecovered(result string) {
	SagaRecovered.WithLabelValues(result).Inc()
}

// RecordIndexEvent counts a published search index sync event.
// Side effects: records a Prometheus metric.
func RecordIndexEvent(eventType string, err error) {
	IndexEventsPublished.WithLabelValues(eventType, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
