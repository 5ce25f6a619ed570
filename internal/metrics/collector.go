// Package metrics exposes Prometheus metrics for the generation pipeline
// and a small JSON status API consumed by the CLI and dashboard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// latencyBuckets are tuned for end-to-end completion durations, which can
// run from tens of milliseconds (cached prefix, short completion) to tens
// of seconds (long generations on consumer hardware).
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// ttftBuckets are tuned for time-to-first-token, which is dominated by
// prefill cost and is normally much shorter than total latency.
var ttftBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// tokenRateBuckets are tuned for per-request decode throughput in
// tokens/second on Apple silicon.
var tokenRateBuckets = []float64{1, 5, 10, 20, 30, 50, 75, 100, 150, 200}

// Collector owns every Prometheus collector mlxd registers, plus the
// process start time behind Uptime. It keeps no plain counters of its
// own; /api/stats reads its totals from the request log store.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal        *prometheus.CounterVec
	promptTokensTotal     prometheus.Counter
	completionTokensTotal prometheus.Counter
	cachedTokensTotal     prometheus.Counter
	cacheHitsTotal        prometheus.Counter
	cacheMissesTotal      prometheus.Counter
	errorsTotal           *prometheus.CounterVec

	requestDuration *prometheus.HistogramVec
	ttft            *prometheus.HistogramVec
	tokenRate       *prometheus.HistogramVec

	activeRequests prometheus.Gauge
	queueDepth     prometheus.Gauge

	startTime time.Time
}

// NewCollector creates a Collector with all metrics registered against a
// fresh registry and a start time set to now.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		startTime: time.Now(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlxd_requests_total",
			Help: "Total number of completed HTTP requests by path, model, and status code.",
		}, []string{"path", "model", "status"}),

		promptTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlxd_prompt_tokens_total",
			Help: "Total number of prompt tokens processed.",
		}),
		completionTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlxd_completion_tokens_total",
			Help: "Total number of completion tokens generated.",
		}),
		cachedTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlxd_cached_tokens_total",
			Help: "Total number of prompt tokens served from the prefix-KV cache.",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlxd_cache_hits_total",
			Help: "Total number of requests that reused a cached prefix.",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlxd_cache_misses_total",
			Help: "Total number of requests that found no cached prefix.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlxd_errors_total",
			Help: "Total number of request errors by error type.",
		}, []string{"type"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mlxd_request_duration_seconds",
			Help:    "End-to-end request duration in seconds by model and streaming mode.",
			Buckets: latencyBuckets,
		}, []string{"model", "streaming"}),
		ttft: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mlxd_time_to_first_token_seconds",
			Help:    "Time from request start to the first generated token, by model.",
			Buckets: ttftBuckets,
		}, []string{"model"}),
		tokenRate: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mlxd_decode_tokens_per_second",
			Help:    "Decode throughput in tokens/second, by model.",
			Buckets: tokenRateBuckets,
		}, []string{"model"}),

		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mlxd_active_requests",
			Help: "Number of requests currently holding or waiting for the generation slot.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mlxd_queue_depth",
			Help: "Number of requests currently queued for the generation slot.",
		}),
	}

	reg.MustRegister(
		c.requestsTotal,
		c.promptTokensTotal,
		c.completionTokensTotal,
		c.cachedTokensTotal,
		c.cacheHitsTotal,
		c.cacheMissesTotal,
		c.errorsTotal,
		c.requestDuration,
		c.ttft,
		c.tokenRate,
		c.activeRequests,
		c.queueDepth,
	)

	return c
}

// Registry returns the Prometheus registry metrics are registered
// against, for mounting promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordRequest updates request-scoped counters once a completion
// request (streamed or not) has finished.
func (c *Collector) RecordRequest(path, model string, statusCode int, promptTokens, completionTokens, cachedTokens int, cacheHit bool, streaming bool, duration time.Duration) {
	c.requestsTotal.WithLabelValues(path, model, statusCodeLabel(statusCode)).Inc()
	c.promptTokensTotal.Add(float64(promptTokens))
	c.completionTokensTotal.Add(float64(completionTokens))
	c.cachedTokensTotal.Add(float64(cachedTokens))

	if cacheHit {
		c.cacheHitsTotal.Inc()
	} else {
		c.cacheMissesTotal.Inc()
	}

	c.requestDuration.WithLabelValues(model, streamingLabel(streaming)).Observe(duration.Seconds())

	if completionTokens > 0 && duration > 0 {
		tps := float64(completionTokens) / duration.Seconds()
		c.tokenRate.WithLabelValues(model).Observe(tps)
	}
}

// ObserveTTFT records the latency from request start to the first
// generated token.
func (c *Collector) ObserveTTFT(model string, d time.Duration) {
	c.ttft.WithLabelValues(model).Observe(d.Seconds())
}

// RecordError increments the error counter for the given taxonomy type
// (invalid_request_error, timeout, model_error, ...).
func (c *Collector) RecordError(errType string) {
	c.errorsTotal.WithLabelValues(errType).Inc()
}

// IncrementActive/DecrementActive track requests currently holding or
// waiting for the single generation slot.
func (c *Collector) IncrementActive() { c.activeRequests.Inc() }
func (c *Collector) DecrementActive() { c.activeRequests.Dec() }

// SetQueueDepth reports the current number of requests queued for the
// generation slot.
func (c *Collector) SetQueueDepth(n int) { c.queueDepth.Set(float64(n)) }

// Uptime returns how long the collector (and by extension the server)
// has been running.
func (c *Collector) Uptime() time.Duration { return time.Since(c.startTime) }

func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}

func streamingLabel(streaming bool) string {
	if streaming {
		return "true"
	}
	return "false"
}
