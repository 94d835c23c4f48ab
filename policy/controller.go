package policy

import (
	"fmt"
)

// Controller holds the per-source policies for one process.
type Controller struct {
	sources map[string]*SourcePolicy
	metrics *Metrics
}

// ControllerConfig groups the top-level policy configuration.
type ControllerConfig struct {
	Sources []SourceConfig
}

// NewController creates a policy controller with the provided configuration.
func NewController(cfg ControllerConfig, metrics *Metrics) (*Controller, error) {
	sourcePolicies := make(map[string]*SourcePolicy, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		if _, dup := sourcePolicies[sc.Name]; dup {
			return nil, fmt.Errorf("source %q configured twice", sc.Name)
		}
		policy, err := NewSourcePolicy(sc, metrics)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}
		sourcePolicies[sc.Name] = policy
	}

	return &Controller{
		sources: sourcePolicies,
		metrics: metrics,
	}, nil
}

// Source returns the policy for the requested source.
func (c *Controller) Source(name string) (*SourcePolicy, bool) {
	policy, ok := c.sources[name]
	return policy, ok
}

// Metrics returns the metrics collector.
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}
