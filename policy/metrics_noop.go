//go:build nometrics

package policy

import "time"

type Metrics struct{}

type MetricsOption func(*metricsConfig)

type metricsConfig struct{}

func NewMetrics(...MetricsOption) *Metrics {
	return nil
}

func WithRegisterer(_ any) MetricsOption {
	return func(*metricsConfig) {}
}

func WithLatencyBuckets(_ []float64) MetricsOption {
	return func(*metricsConfig) {}
}

func (m *Metrics) ObserveSource(string, time.Duration, error) {}

func (m *Metrics) ErrorRate(string) float64 { return 0 }

func (m *Metrics) ObserveRun(time.Duration) {}

func (m *Metrics) IncBudgetHit() {}

func (m *Metrics) SetCircuitState(string, CircuitState) {}
