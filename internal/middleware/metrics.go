package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"keygate/internal/infrastructure"
)

// Metrics records per-request counters and latency into the OpenTelemetry
// instruments exposed on /metrics.
func Metrics(m *infrastructure.HTTPMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			start := time.Now()

			m.ActiveRequests.Add(ctx, 1)
			defer m.ActiveRequests.Add(ctx, -1)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", r.URL.Path),
				attribute.Int("status", ww.Status()),
			)
			m.RequestsTotal.Add(ctx, 1, attrs)
			m.RequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		})
	}
}
