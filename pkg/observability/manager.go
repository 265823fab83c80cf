package observability

import (
	"context"
	"fmt"
	"net/http"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Manager ties the tracer provider and the metrics registry together
// behind the lifecycle boot.Boot needs: one construction call, one
// shutdown call, tracer/metrics accessors for everything else to wire
// into.
type Manager struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
	metrics  *Metrics
}

// NewManager builds a Manager from cfg: tracing is live only when cfg
// names an OTLP endpoint, metrics are always live.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	provider, err := InitTracer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: init tracer: %w", err)
	}
	return &Manager{
		provider: provider,
		tracer:   provider.Tracer("github.com/flock-run/flock"),
		metrics:  NewMetrics(),
	}, nil
}

// Tracer returns the node-wide tracer.
func (mgr *Manager) Tracer() trace.Tracer {
	if mgr == nil {
		return Tracer("github.com/flock-run/flock")
	}
	return mgr.tracer
}

// Metrics returns the node-wide metrics registry.
func (mgr *Manager) Metrics() *Metrics {
	if mgr == nil {
		return nil
	}
	return mgr.metrics
}

// MetricsHandler serves the Prometheus exposition for this node.
func (mgr *Manager) MetricsHandler() func(http.ResponseWriter, *http.Request) {
	return mgr.Metrics().Handler().ServeHTTP
}

// Shutdown flushes any pending spans and releases the exporter
// connection. Safe to call on a Manager built with tracing disabled.
func (mgr *Manager) Shutdown(ctx context.Context) error {
	if mgr == nil {
		return nil
	}
	if sdkProvider, ok := mgr.provider.(*sdktrace.TracerProvider); ok {
		return sdkProvider.Shutdown(ctx)
	}
	return nil
}
