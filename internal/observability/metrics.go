package observability

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dogcatcher/authgw/internal/util"
)

// unmatchedRoute is the label used for requests that matched no configured
// route, keeping label cardinality bounded.
const unmatchedRoute = "unmatched"

// Metrics holds the Prometheus metrics for the authentication router.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	responseSize      *prometheus.HistogramVec
	activeRequests    *prometheus.GaugeVec
	authTotal         *prometheus.CounterVec
	authDuration      *prometheus.HistogramVec
	introspections    *prometheus.CounterVec
	introspectionTime prometheus.Histogram
	introspectionHits *prometheus.CounterVec
	upstreamErrors    *prometheus.CounterVec
	rateLimitHits     *prometheus.CounterVec
	buildInfo         *prometheus.GaugeVec
	startTime         prometheus.Gauge
	registry          *prometheus.Registry
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "authgw"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "mode", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	m.responseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "route"},
	)

	m.activeRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
		[]string{"method"},
	)

	m.authTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_validations_total",
			Help:      "Total number of authentication attempts",
		},
		[]string{"mode", "result", "reason"},
	)

	m.authDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_validation_duration_seconds",
			Help:      "Authentication verification duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"mode"},
	)

	m.introspections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oidc_introspections_total",
			Help:      "Total number of OIDC token introspection calls",
		},
		[]string{"result"},
	)

	m.introspectionTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oidc_introspection_duration_seconds",
			Help:      "OIDC introspection round-trip duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	m.introspectionHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oidc_introspection_cache_total",
			Help:      "OIDC introspection cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	m.upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of upstream proxy failures",
		},
		[]string{"route"},
	)

	m.rateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limited requests",
		},
		[]string{"route"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Process start time in unix seconds",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.responseSize,
		m.activeRequests,
		m.authTotal,
		m.authDuration,
		m.introspections,
		m.introspectionTime,
		m.introspectionHits,
		m.upstreamErrors,
		m.rateLimitHits,
		m.buildInfo,
		m.startTime,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m.startTime.SetToCurrentTime()

	return m
}

// RecordRequest records a completed HTTP request. The route label is the
// matched route name, never the raw path.
func (m *Metrics) RecordRequest(method, route, mode string, status int, duration time.Duration, respSize int64) {
	statusStr := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, route, mode, statusStr).Inc()
	m.requestDuration.WithLabelValues(method, route, statusStr).Observe(duration.Seconds())
	m.responseSize.WithLabelValues(method, route).Observe(float64(respSize))
}

// RecordAuthValidation records the outcome of one verification attempt.
// reason distinguishes failure causes for security auditing; it is "ok"
// on success.
func (m *Metrics) RecordAuthValidation(mode, result, reason string, duration time.Duration) {
	m.authTotal.WithLabelValues(mode, result, reason).Inc()
	m.authDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordIntrospection records one OIDC introspection round trip.
func (m *Metrics) RecordIntrospection(result string, duration time.Duration) {
	m.introspections.WithLabelValues(result).Inc()
	m.introspectionTime.Observe(duration.Seconds())
}

// RecordIntrospectionCache records an introspection cache lookup outcome
// ("hit" or "miss").
func (m *Metrics) RecordIntrospectionCache(outcome string) {
	m.introspectionHits.WithLabelValues(outcome).Inc()
}

// RecordUpstreamError records a proxy failure for the given route.
func (m *Metrics) RecordUpstreamError(route string) {
	m.upstreamErrors.WithLabelValues(route).Inc()
}

// RecordRateLimitHit records a rate limited request for the given route.
func (m *Metrics) RecordRateLimitHit(route string) {
	m.rateLimitHits.WithLabelValues(route).Inc()
}

// SetBuildInfo publishes build metadata.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegisterCollector registers an additional collector on the registry
// backing the /metrics endpoint.
func (m *Metrics) MustRegisterCollector(c prometheus.Collector) {
	m.registry.MustRegister(c)
}

// MetricsMiddleware returns a middleware recording per-request metrics.
// Route and mode labels come from the request context, set by the proxy
// after dispatch.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			method := r.Method

			// Install the route holder so the dispatcher's labels are
			// visible here after the handler returns.
			r = r.WithContext(util.EnsureRouteInfo(r.Context()))

			rw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

			metrics.activeRequests.WithLabelValues(method).Inc()
			next.ServeHTTP(rw, r)
			metrics.activeRequests.WithLabelValues(method).Dec()

			route := util.RouteFromContext(r.Context())
			if route == "" {
				route = unmatchedRoute
			}
			mode := util.AuthModeFromContext(r.Context())
			if mode == "" {
				mode = "none"
			}

			metrics.RecordRequest(method, route, mode, rw.status, time.Since(start), int64(rw.size))
		})
	}
}

// metricsResponseWriter captures status and size for metrics.
type metricsResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for WebSocket upgrades.
func (rw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
