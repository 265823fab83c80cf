package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is Flock's Prometheus registry: an agents-per-loop-state gauge,
// executor latency/outcome, migration phase throughput, and an HTTP
// request histogram for the A2A surface. Every Record* method is
// nil-receiver safe so callers can pass a nil *Metrics wherever
// observability is optional without guarding every call site.
type Metrics struct {
	registry *prometheus.Registry

	agentsByState   *prometheus.GaugeVec
	executorLatency *prometheus.HistogramVec
	tasksTotal      *prometheus.CounterVec

	migrationsInFlight prometheus.Gauge
	migrationOutcomes  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers every Flock metric against a fresh
// registry, namespaced "flock".
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		agentsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flock",
			Subsystem: "scheduler",
			Name:      "agents_by_state",
			Help:      "Number of agents currently in each loop state.",
		}, []string{"state"}),
		executorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flock",
			Subsystem: "executor",
			Name:      "request_duration_seconds",
			Help:      "Latency of one Execute call, from frozen-guard check to final status event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent_id", "outcome"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flock",
			Subsystem: "executor",
			Name:      "tasks_total",
			Help:      "A2A tasks handled, by agent and outcome.",
		}, []string{"agent_id", "outcome"}),
		migrationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flock",
			Subsystem: "migration",
			Name:      "in_flight",
			Help:      "Migrations currently between REQUESTED and a terminal phase.",
		}),
		migrationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flock",
			Subsystem: "migration",
			Name:      "outcomes_total",
			Help:      "Migrations that reached a terminal phase, by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flock",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served by the A2A surface, by route and status class.",
		}, []string{"path", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flock",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}

	reg.MustRegister(
		m.agentsByState,
		m.executorLatency,
		m.tasksTotal,
		m.migrationsInFlight,
		m.migrationOutcomes,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetAgentsByState records the current agent count in state.
func (m *Metrics) SetAgentsByState(state string, count int) {
	if m == nil {
		return
	}
	m.agentsByState.WithLabelValues(state).Set(float64(count))
}

// ObserveExecutorLatency records one Execute call's duration.
func (m *Metrics) ObserveExecutorLatency(agentID, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.executorLatency.WithLabelValues(agentID, outcome).Observe(seconds)
	m.tasksTotal.WithLabelValues(agentID, outcome).Inc()
}

// IncMigrationsInFlight is called when a migration is initiated.
func (m *Metrics) IncMigrationsInFlight() {
	if m == nil {
		return
	}
	m.migrationsInFlight.Inc()
}

// RecordMigrationOutcome is called when a migration reaches a terminal
// phase (COMPLETED, ABORTED, or FAILED); it decrements the in-flight
// gauge and counts the outcome.
func (m *Metrics) RecordMigrationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.migrationsInFlight.Dec()
	m.migrationOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one HTTP request's outcome and latency.
func (m *Metrics) ObserveHTTPRequest(path, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(path, method, status).Inc()
	m.httpDuration.WithLabelValues(path, method).Observe(seconds)
}
