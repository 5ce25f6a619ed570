package tracing

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware returns a chi-compatible middleware that extracts
// incoming trace context (W3C traceparent / tracestate) from request
// headers and creates a root server span per request. Span names use
// the normalized route so /v1/models/<id> lookups don't explode span
// cardinality. Each span also records time-to-first-byte, which for an
// SSE response is the client-observed prompt-prefill latency rather
// than the full generation time.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := normalizeRoute(r.URL.Path)
		ctx, span := Tracer().Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(route),
				semconv.URLPath(r.URL.Path),
				semconv.ServerAddress(r.Host),
				semconv.UserAgentOriginal(r.UserAgent()),
			),
		)
		defer span.End()

		// Wrap the response writer to capture the status code and the
		// moment the first byte reached the wire.
		sw := &statusWriter{ResponseWriter: w, start: time.Now()}

		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
		if !sw.firstByte.IsZero() {
			ttfb := sw.firstByte.Sub(sw.start)
			span.SetAttributes(attribute.Float64("http.time_to_first_byte_ms",
				float64(ttfb.Microseconds())/1000.0))
		}
		if sw.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}

// normalizeRoute collapses per-request path segments so span names stay
// low-cardinality. The only parameterized route the surface serves is
// /v1/models/{id}.
func normalizeRoute(path string) string {
	if strings.HasPrefix(path, "/v1/models/") && path != "/v1/models/" {
		return "/v1/models/{id}"
	}
	return path
}

// statusWriter wraps http.ResponseWriter to capture the written status
// code and the time of the first header/body write.
type statusWriter struct {
	http.ResponseWriter
	status    int
	written   bool
	start     time.Time
	firstByte time.Time
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
		sw.firstByte = time.Now()
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.status = http.StatusOK
		sw.written = true
		sw.firstByte = time.Now()
	}
	return sw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher, required for SSE streaming.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
