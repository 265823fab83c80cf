package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsReceiversAreNoOps(t *testing.T) {
	var m *Metrics
	m.SetAgentsByState("AWAKE", 3)
	m.ObserveExecutorLatency("worker-1", "completed", 0.5)
	m.IncMigrationsInFlight()
	m.RecordMigrationOutcome("completed")
	m.ObserveHTTPRequest("/flock/agents", "GET", "2xx", 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsHandlerServesExposition(t *testing.T) {
	m := NewMetrics()
	m.SetAgentsByState("AWAKE", 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flock_scheduler_agents_by_state")
}

func TestManagerWithoutOTLPEndpointIsNoopTracing(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := ConfigFromEnv("flock-test")
	assert.False(t, cfg.TracingEnabled())

	mgr, err := NewManager(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, mgr.Tracer())
	assert.NotNil(t, mgr.Metrics())
	assert.NoError(t, mgr.Shutdown(context.Background()))
}

func TestStatusClassBuckets(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	m := NewMetrics()
	handler := HTTPMiddleware(Tracer("test"), m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
