// Package config loads planner settings from a YAML file with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saferoute/route_scoring/batch"
	"github.com/saferoute/route_scoring/candidates"
	"github.com/saferoute/route_scoring/orchestrator"
	"github.com/saferoute/route_scoring/policy"
)

// Endpoints are the base URLs of the external collaborators. Crime normally
// points at the edge cache proxy.
type Endpoints struct {
	Provider  string `yaml:"provider"`
	Crime     string `yaml:"crime"`
	Imagery   string `yaml:"imagery"`
	Narrative string `yaml:"narrative"`
}

type Limits struct {
	MaxDistanceM float64 `yaml:"max_distance_m"`
	MaxDurationS float64 `yaml:"max_duration_s"`
	MinPoints    int     `yaml:"min_points"`
}

type Batches struct {
	Provisional int `yaml:"provisional"`
	Narrative   int `yaml:"narrative"`
}

type Timeouts struct {
	Provider  time.Duration `yaml:"provider"`
	Crime     time.Duration `yaml:"crime"`
	Imagery   time.Duration `yaml:"imagery"`
	Narrative time.Duration `yaml:"narrative"`
}

// Planner is the full planner configuration.
type Planner struct {
	Endpoints        Endpoints  `yaml:"endpoints"`
	AvoidSets        [][]string `yaml:"avoid_sets"`
	Limits           Limits     `yaml:"limits"`
	Batches          Batches    `yaml:"batches"`
	Timeouts         Timeouts   `yaml:"timeouts"`
	RetryMax         int        `yaml:"retry_max"`
	ImagerySamples   int        `yaml:"imagery_samples"`
	SegmentCacheSize int        `yaml:"segment_cache_size"`
}

// Default returns the built-in planner settings.
func Default() Planner {
	return Planner{
		Endpoints: Endpoints{
			Provider:  "http://localhost:8081",
			Crime:     "http://localhost:7070",
			Imagery:   "http://localhost:5002",
			Narrative: "http://localhost:5001",
		},
		AvoidSets: cloneSets(orchestrator.DefaultAvoidSets),
		Limits: Limits{
			MaxDistanceM: candidates.DefaultMaxDistanceM,
			MaxDurationS: candidates.DefaultMaxDurationS,
			MinPoints:    candidates.DefaultMinPoints,
		},
		Batches: Batches{
			Provisional: orchestrator.DefaultProvisionalBatch,
			Narrative:   batch.DefaultSize,
		},
		Timeouts: Timeouts{
			Provider:  orchestrator.DefaultProviderTimeout,
			Crime:     orchestrator.DefaultCrimeTimeout,
			Imagery:   orchestrator.DefaultImageryTimeout,
			Narrative: orchestrator.DefaultNarrativeTimeout,
		},
		RetryMax:       1,
		ImagerySamples: orchestrator.DefaultImagerySamples,
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Planner, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Planner, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, lookup)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Planner, lookup func(string) (string, bool)) {
	env := envReader{lookup: lookup}
	cfg.Endpoints.Provider = env.getStr("PROVIDER_URL", cfg.Endpoints.Provider)
	cfg.Endpoints.Crime = env.getStr("CRIME_URL", cfg.Endpoints.Crime)
	cfg.Endpoints.Imagery = env.getStr("IMAGERY_URL", cfg.Endpoints.Imagery)
	cfg.Endpoints.Narrative = env.getStr("NARRATIVE_URL", cfg.Endpoints.Narrative)
	cfg.Batches.Narrative = env.getInt("NARRATIVE_BATCH", cfg.Batches.Narrative)
	cfg.Batches.Provisional = env.getInt("PROVISIONAL_BATCH", cfg.Batches.Provisional)
	cfg.Timeouts.Narrative = env.getMillis("NARRATIVE_TIMEOUT_MS", cfg.Timeouts.Narrative)
	cfg.Timeouts.Crime = env.getMillis("CRIME_TIMEOUT_MS", cfg.Timeouts.Crime)
	cfg.Timeouts.Imagery = env.getMillis("IMAGERY_TIMEOUT_MS", cfg.Timeouts.Imagery)
	cfg.RetryMax = env.getInt("RETRY_MAX", cfg.RetryMax)
	cfg.ImagerySamples = env.getInt("IMAGERY_SAMPLES", cfg.ImagerySamples)
	cfg.SegmentCacheSize = env.getInt("SEGMENT_CACHE_SIZE", cfg.SegmentCacheSize)
}

// Validate rejects settings the planner cannot run with.
func (p Planner) Validate() error {
	for name, url := range map[string]string{
		"provider":  p.Endpoints.Provider,
		"crime":     p.Endpoints.Crime,
		"imagery":   p.Endpoints.Imagery,
		"narrative": p.Endpoints.Narrative,
	} {
		if url == "" {
			return fmt.Errorf("endpoints.%s required", name)
		}
	}
	if p.Batches.Narrative < 0 || p.Batches.Provisional < 0 {
		return fmt.Errorf("batch sizes must not be negative")
	}
	if p.SegmentCacheSize < 0 {
		return fmt.Errorf("segment_cache_size must not be negative")
	}
	return nil
}

// Orchestrator maps the settings onto an orchestrator configuration.
func (p Planner) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		AvoidSets: p.AvoidSets,
		Limits: candidates.Limits{
			MaxDistanceM: p.Limits.MaxDistanceM,
			MaxDurationS: p.Limits.MaxDurationS,
			MinPoints:    p.Limits.MinPoints,
		},
		ProvisionalBatch: p.Batches.Provisional,
		NarrativeBatch:   p.Batches.Narrative,
		ImagerySamples:   p.ImagerySamples,
		SegmentCacheSize: p.SegmentCacheSize,
		Provider:         policy.SourceConfig{Timeout: p.Timeouts.Provider},
		Crime:            policy.SourceConfig{Timeout: p.Timeouts.Crime},
		Imagery:          policy.SourceConfig{Timeout: p.Timeouts.Imagery},
		// Narrative calls queue for a token rather than fail fast.
		Narrative: policy.SourceConfig{
			Timeout: p.Timeouts.Narrative,
			Rate:    policy.RateLimitConfig{Capacity: p.Batches.Narrative, RefillTokens: 1, RefillEvery: time.Second, Wait: true},
		},
	}
}

func cloneSets(sets [][]string) [][]string {
	out := make([][]string, len(sets))
	for i, s := range sets {
		out[i] = append([]string(nil), s...)
	}
	return out
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) getStr(key, fallback string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func (e envReader) getInt(key string, fallback int) int {
	if v, ok := e.lookup(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

func (e envReader) getMillis(key string, fallback time.Duration) time.Duration {
	if ms := e.getInt(key, -1); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
