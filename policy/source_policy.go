package policy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RateLimitConfig configures the token bucket limiter.
type RateLimitConfig struct {
	Capacity     int
	RefillTokens int
	RefillEvery  time.Duration
	// Wait queues a call for a token (bounded by the call timeout) instead of
	// rejecting it.
	Wait bool
}

// SourceConfig configures the per-source policy controls.
type SourceConfig struct {
	Name    string
	Timeout time.Duration
	Rate    RateLimitConfig
	Circuit CircuitBreakerConfig
}

// SourcePolicy applies timeout, rate limiting, and circuit breaking to calls
// against one scorer. A timeout only affects the call it bounds.
type SourcePolicy struct {
	name    string
	timeout time.Duration
	rate    *TokenBucket
	wait    bool
	circuit *CircuitBreaker
	metrics *Metrics
	now     func() time.Time
}

// NewSourcePolicy constructs a SourcePolicy with the provided configuration.
func NewSourcePolicy(cfg SourceConfig, metrics *Metrics) (*SourcePolicy, error) {
	if cfg.Name == "" {
		return nil, errors.New("source name required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("source timeout must be positive")
	}

	var bucket *TokenBucket
	if cfg.Rate.Capacity > 0 && cfg.Rate.RefillTokens > 0 && cfg.Rate.RefillEvery > 0 {
		bucket = NewTokenBucket(cfg.Rate.Capacity, cfg.Rate.RefillTokens, cfg.Rate.RefillEvery)
	}

	cbCfg := normalizeCircuitConfig(cfg.Circuit)
	cb := NewCircuitBreaker(cfg.Name, cbCfg, metrics)

	return &SourcePolicy{
		name:    cfg.Name,
		timeout: cfg.Timeout,
		rate:    bucket,
		wait:    cfg.Rate.Wait,
		circuit: cb,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Name returns the source name.
func (s *SourcePolicy) Name() string {
	return s.name
}

// Timeout returns the per-call deadline.
func (s *SourcePolicy) Timeout() time.Duration {
	return s.timeout
}

// Circuit exposes the breaker for readiness reporting.
func (s *SourcePolicy) Circuit() *CircuitBreaker {
	return s.circuit
}

// Execute wraps a source call applying circuit breaker, rate limiting, and
// timeout checks, in that order. Rejections never reach fn.
func (s *SourcePolicy) Execute(parent context.Context, fn func(context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}

	now := s.now()

	if !s.circuit.Allow(now) {
		s.metrics.ObserveSource(s.name, 0, ErrCircuitOpen)
		return ErrCircuitOpen
	}

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if s.rate != nil {
		if s.wait {
			if err := s.rate.Wait(ctx); err != nil {
				s.metrics.ObserveSource(s.name, 0, ErrRateLimited)
				return fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
		} else if !s.rate.Allow(now) {
			s.metrics.ObserveSource(s.name, 0, ErrRateLimited)
			return ErrRateLimited
		}
	}

	start := s.now()
	err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	latency := s.now().Sub(start)
	s.metrics.ObserveSource(s.name, latency, err)

	// A caller that went away says nothing about the scorer.
	if errors.Is(err, context.Canceled) && parent.Err() != nil {
		s.circuit.Release()
		return err
	}
	s.circuit.Record(s.now(), err == nil)
	return err
}

func normalizeCircuitConfig(cfg CircuitBreakerConfig) CircuitBreakerConfig {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = 0.5
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return cfg
}
