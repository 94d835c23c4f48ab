//go:build !nometrics

package policy

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps per-source scorer metrics.
type Metrics struct {
	perSourceLatency *prometheus.HistogramVec
	perSourceErrRate *prometheus.GaugeVec
	rejections       *prometheus.CounterVec
	runLatency       prometheus.Histogram
	circuitState     *prometheus.GaugeVec
	budgetHit        prometheus.Counter

	requestsMu sync.Mutex
	requests   map[string]*sourceRequestStats
}

type sourceRequestStats struct {
	success int
	fail    int
}

// MetricsOption allows customizing the metrics registry.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	registerer prometheus.Registerer
	buckets    []float64
}

// WithRegisterer overrides the default Prometheus registerer.
func WithRegisterer(r prometheus.Registerer) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.registerer = r
	}
}

// WithLatencyBuckets overrides the default latency histogram buckets (in ms).
func WithLatencyBuckets(buckets []float64) MetricsOption {
	return func(cfg *metricsConfig) {
		cfg.buckets = buckets
	}
}

// NewMetrics constructs Metrics and registers Prometheus collectors. Scorer
// calls are slow, so the default buckets reach two minutes.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{
		registerer: prometheus.DefaultRegisterer,
		buckets: []float64{
			50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000,
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Metrics{
		perSourceLatency: registerHistogramVec(cfg.registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "route_scoring_source_latency_ms",
			Help:    "Latency in milliseconds for each scorer source.",
			Buckets: cfg.buckets,
		}, []string{"source"})),
		perSourceErrRate: registerGaugeVec(cfg.registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "route_scoring_source_error_rate",
			Help: "Error rate since start for each scorer source.",
		}, []string{"source"})),
		rejections: registerCounterVec(cfg.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "route_scoring_source_rejections_total",
			Help: "Scorer calls rejected by policy before reaching the source.",
		}, []string{"source", "reason"})),
		runLatency: registerHistogram(cfg.registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "route_scoring_run_latency_ms",
			Help:    "Wall time in milliseconds for one scoring run.",
			Buckets: cfg.buckets,
		})),
		circuitState: registerGaugeVec(cfg.registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "route_scoring_circuit_state",
			Help: "Circuit breaker state for each scorer source. 0=closed, 1=half-open, 2=open.",
		}, []string{"source"})),
		budgetHit: registerCounter(cfg.registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "route_scoring_policy_budget_hit_total",
			Help: "Total number of requests that hit the configured budget.",
		})),
		requests: make(map[string]*sourceRequestStats),
	}

	return m
}

// ObserveSource records the latency and error status for a source.
func (m *Metrics) ObserveSource(source string, latency time.Duration, err error) {
	if m == nil {
		return
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		reason := "circuit_open"
		if errors.Is(err, ErrRateLimited) {
			reason = "rate_limited"
		}
		m.rejections.WithLabelValues(source, reason).Inc()
	} else {
		ms := float64(latency.Milliseconds())
		if ms < 0 {
			ms = 0
		}
		m.perSourceLatency.WithLabelValues(source).Observe(ms)
	}

	m.requestsMu.Lock()
	stats, ok := m.requests[source]
	if !ok {
		stats = &sourceRequestStats{}
		m.requests[source] = stats
	}
	if err != nil {
		stats.fail++
	} else {
		stats.success++
	}
	total := stats.fail + stats.success
	var rate float64
	if total > 0 {
		rate = float64(stats.fail) / float64(total)
	}
	m.requestsMu.Unlock()

	m.perSourceErrRate.WithLabelValues(source).Set(rate)
}

// ErrorRate returns the failure ratio observed for a source.
func (m *Metrics) ErrorRate(source string) float64 {
	if m == nil {
		return 0
	}
	m.requestsMu.Lock()
	defer m.requestsMu.Unlock()
	stats, ok := m.requests[source]
	if !ok || stats.fail+stats.success == 0 {
		return 0
	}
	return float64(stats.fail) / float64(stats.fail+stats.success)
}

// ObserveRun records the wall time of a scoring run.
func (m *Metrics) ObserveRun(latency time.Duration) {
	if m == nil {
		return
	}
	ms := float64(latency.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	m.runLatency.Observe(ms)
}

// IncBudgetHit increments the budget hit counter.
func (m *Metrics) IncBudgetHit() {
	if m == nil {
		return
	}
	m.budgetHit.Inc()
}

// SetCircuitState records the circuit breaker state for a source.
func (m *Metrics) SetCircuitState(source string, state CircuitState) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(source).Set(float64(state))
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if registerer == nil {
		return collector
	}
	if err := registerer.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
			return collector
		}
		panic(err)
	}
	return collector
}

func registerHistogramVec(r prometheus.Registerer, c *prometheus.HistogramVec) *prometheus.HistogramVec {
	return register(r, c)
}

func registerGaugeVec(r prometheus.Registerer, c *prometheus.GaugeVec) *prometheus.GaugeVec {
	return register(r, c)
}

func registerCounterVec(r prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	return register(r, c)
}

func registerHistogram(r prometheus.Registerer, c prometheus.Histogram) prometheus.Histogram {
	return register(r, c)
}

func registerCounter(r prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	return register(r, c)
}
