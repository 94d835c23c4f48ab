//go:build !nometrics

package obs

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

var (
	setupOnce sync.Once
	shutdown  = func(context.Context) error { return nil }
)

var (
	proxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_scoring_proxy_requests_total",
		Help: "Total edge proxy requests by HTTP status code.",
	}, []string{"code"})
	proxyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "route_scoring_proxy_request_duration_ms",
		Help:    "Histogram of edge proxy request latency in ms.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	})
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_scoring_cache_lookups_total",
		Help: "Edge cache lookups by result (hit, miss, error).",
	}, []string{"result"})
	cacheWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_scoring_cache_write_errors_total",
		Help: "Edge cache writes that failed and were skipped.",
	})
	backendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "route_scoring_backend_duration_ms",
		Help:    "Histogram of crime backend latency in ms.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	})
	backendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_scoring_backend_errors_total",
		Help: "Crime backend calls surfaced to the caller as errors.",
	})
	budgetHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "route_scoring_budget_hit_total",
		Help: "Total requests that exhausted the configured budget.",
	})
	batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_scoring_batches_total",
		Help: "Scorer batches issued by the orchestrator, by phase.",
	}, []string{"phase"})
	fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_scoring_fallbacks_total",
		Help: "Sub-scores replaced by their default after a scorer failure.",
	}, []string{"source"})
)

// ObserveProxyRequest records proxy-level metrics.
func ObserveProxyRequest(code string, duration time.Duration, traceID string) {
	proxyRequests.WithLabelValues(code).Inc()
	if eo, ok := proxyDuration.(prometheus.ExemplarObserver); ok && traceID != "" {
		eo.ObserveWithExemplar(
			float64(duration.Milliseconds()),
			prometheus.Labels{"trace_id": traceID},
		)
		return
	}
	proxyDuration.Observe(float64(duration.Milliseconds()))
}

// RecordCacheLookup counts an edge cache lookup outcome.
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// IncCacheWriteError counts a skipped cache write.
func IncCacheWriteError() {
	cacheWriteErrors.Inc()
}

// RecordBackend observes a backend call.
func RecordBackend(duration time.Duration, err error) {
	backendDuration.Observe(float64(duration.Milliseconds()))
	if err != nil {
		backendErrors.Inc()
	}
}

// IncBudgetHit records a budget exhaustion event.
func IncBudgetHit() {
	budgetHits.Inc()
}

// IncBatch records one scorer batch for a phase.
func IncBatch(phase string) {
	batches.WithLabelValues(phase).Inc()
}

// IncFallback records a default substitution for a source.
func IncFallback(source string) {
	fallbacks.WithLabelValues(source).Inc()
}

// InitTracer sets up the OpenTelemetry tracer provider. When otlpEndpoint is
// non-empty spans are exported over OTLP/HTTP.
func InitTracer(serviceName, otlpEndpoint string) (func(context.Context) error, error) {
	var initErr error
	setupOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
			),
		)
		if err != nil {
			initErr = err
			return
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.3))),
			sdktrace.WithResource(res),
		}
		if otlpEndpoint != "" {
			exporter, err := otlptracehttp.New(context.Background(),
				otlptracehttp.WithEndpointURL(otlpEndpoint),
			)
			if err != nil {
				initErr = err
				return
			}
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}

		provider := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(provider)
		shutdown = provider.Shutdown
	})
	return shutdown, initErr
}
