package server

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Callback outcomes.
const (
	outcomeAuthenticated   = "authenticated"
	outcomeUnauthenticated = "unauthenticated"
	outcomeLogout          = "logout"
	outcomeFailed          = "failed"
)

// Metrics counts callback outcomes and logout activity.
type Metrics struct {
	registry        *prometheus.Registry
	callbacks       *prometheus.CounterVec
	logouts         *prometheus.CounterVec
	destroyed       *prometheus.CounterVec
	requestCounter  *prometheus.CounterVec
	activeSessionFn func() int
}

func NewMetrics(activeSessions func() int) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rp_callbacks_total",
			Help: "Count of callback requests by outcome.",
		}, []string{"outcome", "code"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rp_logout_requests_total",
			Help: "Count of provider-initiated logout requests.",
		}, []string{"status"}),
		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rp_sessions_destroyed_total",
			Help: "Count of local sessions destroyed by logout channel.",
		}, []string{"channel"}),
		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Count of all HTTP requests.",
		}, []string{"handler", "code", "method"}),
		activeSessionFn: activeSessions,
	}

	collectors := []prometheus.Collector{m.callbacks, m.logouts, m.destroyed, m.requestCounter}
	if activeSessions != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rp_active_sessions",
			Help: "Number of stored local sessions.",
		}, func() float64 { return float64(m.activeSessionFn()) }))
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("server: failed to register metrics: %w", err)
		}
	}
	return m, nil
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) callback(outcome, code string) {
	m.callbacks.WithLabelValues(outcome, code).Inc()
}

func (m *Metrics) logoutRequest(status int) {
	m.logouts.WithLabelValues(fmt.Sprint(status)).Inc()
}

func (m *Metrics) sessionsDestroyed(channel string, n int) {
	m.destroyed.WithLabelValues(channel).Add(float64(n))
}

// instrument counts requests per handler name.
func (m *Metrics) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.requestCounter.WithLabelValues(name, fmt.Sprint(rec.status), r.Method).Inc()
	}
}
