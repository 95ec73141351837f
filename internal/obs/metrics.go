package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Client-side metrics: every attempt the executor dispatches, plus credential
// refresh outcomes.
var (
	clientInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fieldops_client_in_flight_requests",
		Help: "In-flight requests against the authority.",
	})

	clientRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_client_requests_total",
			Help: "Total request attempts against the authority.",
		},
		[]string{"method", "path", "status"},
	)

	clientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldops_client_request_duration_seconds",
			Help:    "Authority request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_credential_refreshes_total",
			Help: "Credential refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Server-side metrics for the authority simulator.
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
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		clientInFlight, clientRequestsTotal, clientRequestDuration, refreshesTotal,
		httpInFlight, httpRequestsTotal, httpRequestDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClientRequest records one dispatched attempt. Status 0 means the
// attempt never produced an interpretable response.
func ObserveClientRequest(method, path string, status int, d time.Duration) {
	s := strconv.Itoa(status)
	clientRequestsTotal.WithLabelValues(method, path, s).Inc()
	clientRequestDuration.WithLabelValues(method, path, s).Observe(d.Seconds())
}

// ClientInFlightAdd tracks attempts currently awaiting a response.
func ClientInFlightAdd(delta float64) {
	clientInFlight.Add(delta)
}

// ObserveRefresh records a credential refresh outcome ("ok" or "failed").
func ObserveRefresh(outcome string) {
	refreshesTotal.WithLabelValues(outcome).Inc()
}

// Instrument wraps an HTTP handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
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

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
