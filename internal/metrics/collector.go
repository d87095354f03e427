package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Guard decisions
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
	DecisionError   = "error"
	DecisionOpen    = "unrestricted"
)

// Collector handles metrics collection for the service
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec

	// Authentication metrics
	loginAttempts    *prometheus.CounterVec
	guardDecisions   *prometheus.CounterVec
	allowListUpdates *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	collector := &Collector{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipauth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipauth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ipauth_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
			[]string{"method", "path"},
		),
		loginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipauth_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		guardDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipauth_guard_decisions_total",
				Help: "IP allow-list guard decisions",
			},
			[]string{"decision"},
		),
		allowListUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipauth_allowlist_updates_total",
				Help: "Allow-list writes from the admin editor by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collector.httpRequestsTotal,
		collector.httpRequestDuration,
		collector.httpRequestsInFlight,
		collector.loginAttempts,
		collector.guardDecisions,
		collector.allowListUpdates,
	)

	return collector
}

// Registry exposes the underlying registry, mainly for tests
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ServeHTTP implements http.Handler for metrics endpoint
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// RecordRequest records an HTTP request
func (c *Collector) RecordRequest(method, path string, status int, duration float64) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// TrackRequestInFlight tracks a request in flight
func (c *Collector) TrackRequestInFlight(method, path string, inFlight bool) {
	if inFlight {
		c.httpRequestsInFlight.WithLabelValues(method, path).Inc()
	} else {
		c.httpRequestsInFlight.WithLabelValues(method, path).Dec()
	}
}

// RecordLogin counts a finished login attempt; outcome is "success" or the
// first failure code.
func (c *Collector) RecordLogin(outcome string) {
	c.loginAttempts.WithLabelValues(outcome).Inc()
}

// RecordGuardDecision counts one allow-list decision
func (c *Collector) RecordGuardDecision(decision string) {
	c.guardDecisions.WithLabelValues(decision).Inc()
}

// RecordAllowListUpdate counts an admin write; result is e.g. "saved", "deleted" or "rejected"
func (c *Collector) RecordAllowListUpdate(result string) {
	c.allowListUpdates.WithLabelValues(result).Inc()
}
