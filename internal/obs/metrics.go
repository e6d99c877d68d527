package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

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

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Cache operations by backend, operation and outcome.",
		},
		[]string{"backend", "op", "outcome"},
	)

	rateLimitChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_checks_total",
			Help: "Tenant rate limit checks by scope and outcome.",
		},
		[]string{"scope", "outcome"},
	)

	contextSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "context_switches_total",
			Help: "Context switch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	auditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_entries_dropped_total",
		Help: "Audit entries dropped because the trail was full or the sink failed.",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			cacheOps, rateLimitChecks, contextSwitches, auditDropped,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCacheOp records one cache operation outcome ("hit", "miss", "ok", "error").
func ObserveCacheOp(backend, op, outcome string) {
	cacheOps.WithLabelValues(backend, op, outcome).Inc()
}

// ObserveRateLimit records one limiter decision ("allowed", "denied", "fail_open").
func ObserveRateLimit(scope, outcome string) {
	rateLimitChecks.WithLabelValues(scope, outcome).Inc()
}

// ObserveContextSwitch records one switch attempt ("success", "denied", "error").
func ObserveContextSwitch(outcome string) {
	contextSwitches.WithLabelValues(outcome).Inc()
}

// ObserveAuditDrop counts an audit entry that was lost rather than written.
func ObserveAuditDrop() {
	auditDropped.Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
