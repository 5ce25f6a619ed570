package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartGenerationSpan creates a child span for the named stage of the
// generation pipeline: "cache_lookup", "prefill", "decode", or "detok".
func StartGenerationSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "generate."+stage,
		trace.WithAttributes(attribute.String("generate.stage", stage)),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers, for callers that proxy a request
// onward (e.g. a model-management daemon behind mlxd).
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetRequestAttributes adds request-level attributes to the current span.
func SetRequestAttributes(ctx context.Context, requestID, model string, stream bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.String("request.model", model),
		attribute.Bool("request.stream", stream),
	)
}

// SetResponseAttributes adds response-level attributes to the current span.
func SetResponseAttributes(ctx context.Context, statusCode, promptTokens, completionTokens, cachedTokens int, cacheHit bool, finishReason string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("response.status_code", statusCode),
		attribute.Int("response.prompt_tokens", promptTokens),
		attribute.Int("response.completion_tokens", completionTokens),
		attribute.Int("response.cached_tokens", cachedTokens),
		attribute.Bool("response.cache_hit", cacheHit),
		attribute.String("response.finish_reason", finishReason),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
