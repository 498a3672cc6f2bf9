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

	// Gate metrics
	GateDecisionsTotal *prometheus.CounterVec
	RateLimitTotal     *prometheus.CounterVec
	AdminGrantsTotal   *prometheus.CounterVec

	// Store metrics
	StoreLookupDuration *prometheus.HistogramVec
	StoreErrorsTotal    *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Route table metrics
	RouteReloadsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_gate_decisions_total",
				Help: "Total number of gate decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		RateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_rate_limit_total",
				Help: "Total number of rate limit checks by route class and result",
			},
			[]string{"class", "result"},
		),
		AdminGrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_admin_grants_total",
				Help: "Total number of admin access grants by deciding tier",
			},
			[]string{"tier"},
		),

		StoreLookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_store_lookup_duration_seconds",
				Help:    "Authorization store lookup duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"store"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_store_errors_total",
				Help: "Total number of authorization store errors",
			},
			[]string{"store"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		RouteReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_route_reloads_total",
				Help: "Total number of route table reloads",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GateDecisionsTotal,
		m.RateLimitTotal,
		m.AdminGrantsTotal,
		m.StoreLookupDuration,
		m.StoreErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RouteReloadsTotal,
	)

	return m
}

// The recorders below are nil-safe so components can run without metrics.

// ObserveDecision counts one gate decision
func (m *Metrics) ObserveDecision(outcome, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.GateDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveRateLimit counts one rate limit check
func (m *Metrics) ObserveRateLimit(class, result string) {
	if m == nil {
		return
	}
	m.RateLimitTotal.WithLabelValues(class, result).Inc()
}

// ObserveAdminGrant counts an admin grant by the tier that decided it
func (m *Metrics) ObserveAdminGrant(tier string) {
	if m == nil {
		return
	}
	m.AdminGrantsTotal.WithLabelValues(tier).Inc()
}

// ObserveStoreLookup records a store lookup and its error, if any
func (m *Metrics) ObserveStoreLookup(store string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreLookupDuration.WithLabelValues(store).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(store).Inc()
	}
}

// ObserveCache records a cache hit or miss
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// ObserveRouteReload counts a route table reload attempt
func (m *Metrics) ObserveRouteReload(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RouteReloadsTotal.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Paths are not used as labels since every request on the site passes
// through the gate. A nil metrics passes requests through untouched.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
