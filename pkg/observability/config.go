// Package observability is Flock's tracing and metrics surface: an OTLP
// gRPC trace exporter gated on OTEL_EXPORTER_OTLP_ENDPOINT, and a
// Prometheus registry served at /metrics. One metrics stack
// (client_golang direct), covering the gauges, histograms, and counters
// Flock's own domain produces.
package observability

import "os"

// Config controls whether tracing is enabled and where spans are sent.
// Metrics are always enabled; there is no environment-gated off switch
// for them since promhttp.Handler is inert until something scrapes it.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
}

// ConfigFromEnv builds a Config from the process environment:
// OTEL_EXPORTER_OTLP_ENDPOINT gates tracing, matching the standard
// OpenTelemetry SDK variable name so Flock needs no bespoke env var.
func ConfigFromEnv(serviceName string) Config {
	return Config{
		ServiceName:  serviceName,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// TracingEnabled reports whether cfg names an OTLP collector to export to.
func (c Config) TracingEnabled() bool {
	return c.OTLPEndpoint != ""
}
