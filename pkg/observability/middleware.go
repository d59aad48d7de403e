package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Middleware traces each request and records RED metrics on both the OTel
// provider and the Prometheus registry. Either may be nil.
func Middleware(p *Provider, m *Metrics) func(http.Handler) http.Handler {
	propagator := propagation.TraceContext{}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			var span trace.Span
			if p != nil {
				ctx = propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
				ctx, span = p.StartSpan(ctx, r.Method+" "+r.URL.Path,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						attribute.String("http.request.method", r.Method),
						attribute.String("url.path", r.URL.Path),
					),
				)
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			elapsed := time.Since(start)

			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", r.Method),
				attribute.Int("http.response.status_code", rec.status),
			}
			if p != nil {
				p.RecordRequest(ctx, attrs...)
				p.RecordDuration(ctx, elapsed, attrs...)
				if rec.status >= 500 {
					p.RecordError(ctx, attrs...)
					span.SetStatus(codes.Error, strconv.Itoa(rec.status))
				}
				span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
				span.End()
			}
			if m != nil {
				m.HTTPRequests.WithLabelValues(r.Method, fmt.Sprintf("%dxx", rec.status/100)).Inc()
				m.HTTPDurations.WithLabelValues(r.Method).Observe(elapsed.Seconds())
			}
		})
	}
}
