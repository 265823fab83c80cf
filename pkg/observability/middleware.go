package observability

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// responseWriter captures the status code so HTTPMiddleware can record it
// after the handler chain returns.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware wraps next with a span and a metrics observation per
// request. m may be nil (metrics become a no-op); tracer is never nil —
// pass Tracer("flock/http") for a real or noop provider depending on
// whether tracing is enabled.
func HTTPMiddleware(tracer trace.Tracer, m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracer.Start(r.Context(), "http.request",
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.path", r.URL.Path),
				))
			defer span.End()

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			if rw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			}
			span.SetAttributes(attribute.Int("http.status_code", rw.status))

			m.ObserveHTTPRequest(r.URL.Path, r.Method, statusClass(rw.status), time.Since(start).Seconds())
		})
	}
}

// statusClass buckets an HTTP status into the Nxx form Prometheus
// dashboards conventionally group on.
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
