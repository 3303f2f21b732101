package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes recorded by ObserveRefresh.
const (
	RefreshOK          = "ok"
	RefreshAuthExpired = "auth_expired"
	RefreshFailed      = "failed"
	RefreshStale       = "stale"
)

// Metrics holds the Prometheus collectors for the player daemon.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	sessionsActive        prometheus.Gauge
	tokenRefreshTotal     *prometheus.CounterVec
	analyticsSentTotal    prometheus.Counter
	analyticsDroppedTotal prometheus.Counter
	backendRequestsTotal  *prometheus.CounterVec
}

// New creates and registers the player metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_control_requests_total",
			Help: "Total number of control API requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_control_errors_total",
			Help: "Total number of control API responses with error status (4xx or 5xx)",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_sessions_active",
			Help: "Number of playback sessions currently held by the registry",
		}),
		tokenRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_token_refresh_total",
			Help: "Signed URL refresh ticks by outcome",
		}, []string{"result"}),
		analyticsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_analytics_events_sent_total",
			Help: "Analytics events delivered to the backend",
		}),
		analyticsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_analytics_events_dropped_total",
			Help: "Analytics events lost because the send failed",
		}),
		backendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_backend_requests_total",
			Help: "Outbound backend API requests by endpoint path",
		}, []string{"endpoint"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsActive,
		m.tokenRefreshTotal,
		m.analyticsSentTotal,
		m.analyticsDroppedTotal,
		m.backendRequestsTotal,
	)

	return m
}

// IncRequests increments the total control request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the control error counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetSessionsActive sets the active sessions gauge.
func (m *Metrics) SetSessionsActive(n int) {
	m.sessionsActive.Set(float64(n))
}

// ObserveRefresh counts one token refresh tick with the given outcome.
func (m *Metrics) ObserveRefresh(result string) {
	m.tokenRefreshTotal.WithLabelValues(result).Inc()
}

// EventSent counts one delivered analytics event.
func (m *Metrics) EventSent() {
	m.analyticsSentTotal.Inc()
}

// EventDropped counts one analytics event lost to a failed send.
func (m *Metrics) EventDropped() {
	m.analyticsDroppedTotal.Inc()
}

// IncBackendRequest counts one outbound backend call.
func (m *Metrics) IncBackendRequest(endpoint string) {
	m.backendRequestsTotal.WithLabelValues(endpoint).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
