package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saferoute/route_scoring/internal/api"
	"github.com/saferoute/route_scoring/internal/controller"
	"github.com/saferoute/route_scoring/kvstore"
	"github.com/saferoute/route_scoring/obs"
	"github.com/saferoute/route_scoring/policy"
	"github.com/saferoute/route_scoring/sources"
)

const (
	defaultPort      = 7070
	defaultBudgetMs  = 0
	defaultTimeoutMs = 30000
	defaultRetryMax  = 1
	defaultMaxBytes  = 64 << 20
)

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "service", "edge-proxy")

	if err := run(logger); err != nil {
		level.Error(logger).Log("msg", "exiting", "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	cfg := loadConfig()

	shutdown, err := obs.InitTracer("route-scoring-edge", cfg.OTLPEndpoint)
	if err != nil {
		level.Warn(logger).Log("msg", "tracer init failed", "err", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			level.Warn(logger).Log("msg", "tracer shutdown error", "err", err)
		}
	}()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()

	backend, err := sources.NewCrimeBackend(cfg.BackendURL, sources.NewHTTPClient(cfg.Timeout), cfg.RetryMax)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	metrics := policy.NewMetrics()

	ctrl, err := controller.New(backend, controller.Config{
		Store: store,
		Policy: policy.SourceConfig{
			Name:    "crime_backend",
			Timeout: cfg.Timeout,
			Rate: policy.RateLimitConfig{
				Capacity:     cfg.RateCapacity,
				RefillTokens: cfg.RateRefill,
				RefillEvery:  cfg.RateInterval,
			},
			Circuit: policy.CircuitBreakerConfig{
				Window:               cfg.CircuitWindow,
				FailureRateThreshold: cfg.CircuitThreshold,
				MinSamples:           cfg.CircuitMinSamples,
				Cooldown:             cfg.CircuitCooldown,
				HalfOpenMaxCalls:     cfg.CircuitHalfOpenMax,
			},
		},
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	router, err := api.NewRouter(ctrl, api.Config{
		BudgetMS: cfg.BudgetMs,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	router.Handle("/metrics", promhttp.Handler())

	root := chi.NewRouter()
	root.Mount("/", router)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "edge cache proxy listening", "port", cfg.Port, "cache", cfg.CacheBackend, "backend", cfg.BackendURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		level.Warn(logger).Log("msg", "shutdown error", "err", err)
	}
	return nil
}

// openStore selects the edge KV backend. memory is bounded by
// CACHE_MAX_BYTES, sqlite persists across restarts, map is unbounded.
func openStore(cfg config) (kvstore.Store, func(), error) {
	switch cfg.CacheBackend {
	case "memory":
		s, err := kvstore.NewMemoryStore(kvstore.MemoryConfig{MaxCost: int64(cfg.CacheMaxBytes)})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite":
		s, err := kvstore.NewSQLiteStore(cfg.CacheSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "map":
		return kvstore.NewMapStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}
}

type config struct {
	Port               int
	BudgetMs           int
	BackendURL         string
	CacheBackend       string
	CacheSQLitePath    string
	CacheMaxBytes      int
	Timeout            time.Duration
	RetryMax           int
	OTLPEndpoint       string
	RateCapacity       int
	RateRefill         int
	RateInterval       time.Duration
	CircuitWindow      time.Duration
	CircuitThreshold   float64
	CircuitMinSamples  int
	CircuitCooldown    time.Duration
	CircuitHalfOpenMax int
}

func loadConfig() config {
	return config{
		Port:               getEnvInt("PORT", defaultPort),
		BudgetMs:           getEnvInt("BUDGET_MS", defaultBudgetMs),
		BackendURL:         getEnvStr("BACKEND_URL", "http://localhost:5000"),
		CacheBackend:       getEnvStr("CACHE_BACKEND", "memory"),
		CacheSQLitePath:    getEnvStr("CACHE_SQLITE_PATH", "route_cache.db"),
		CacheMaxBytes:      getEnvInt("CACHE_MAX_BYTES", defaultMaxBytes),
		Timeout:            time.Duration(getEnvInt("TIMEOUT_MS", defaultTimeoutMs)) * time.Millisecond,
		RetryMax:           getEnvInt("RETRY_MAX", defaultRetryMax),
		OTLPEndpoint:       getEnvStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		RateCapacity:       getEnvInt("SOURCE_RATE_CAPACITY", 50),
		RateRefill:         getEnvInt("SOURCE_RATE_REFILL", 10),
		RateInterval:       time.Duration(getEnvInt("SOURCE_RATE_INTERVAL_MS", 1000)) * time.Millisecond,
		CircuitWindow:      time.Duration(getEnvInt("CIRCUIT_WINDOW_MS", 30000)) * time.Millisecond,
		CircuitThreshold:   getEnvFloat("CIRCUIT_THRESHOLD", 0.5),
		CircuitMinSamples:  getEnvInt("CIRCUIT_MIN_SAMPLES", 5),
		CircuitCooldown:    time.Duration(getEnvInt("CIRCUIT_COOLDOWN_MS", 10000)) * time.Millisecond,
		CircuitHalfOpenMax: getEnvInt("CIRCUIT_HALF_OPEN_MAX", 1),
	}
}

func getEnvStr(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
