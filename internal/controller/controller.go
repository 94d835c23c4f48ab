package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/saferoute/route_scoring/fingerprint"
	"github.com/saferoute/route_scoring/internal/contract"
	"github.com/saferoute/route_scoring/kvstore"
	"github.com/saferoute/route_scoring/obs"
	"github.com/saferoute/route_scoring/policy"
	"github.com/saferoute/route_scoring/sources"
)

var (
	// ErrInvalidRequest indicates the request body could not be used.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrBackend indicates the crime scorer failed; the wrapped message is the
	// backend's own.
	ErrBackend = errors.New("backend failure")
)

var tracer = otel.Tracer("github.com/saferoute/route_scoring/internal/controller")

// Backend is the crime-statistics scorer as seen by the proxy.
type Backend interface {
	Forward(ctx context.Context, req contract.ScoreRouteRequest, traceID string) (sources.Response, error)
	Ping(ctx context.Context) error
}

// Config groups controller dependencies.
type Config struct {
	Store        kvstore.Store
	StoreTimeout time.Duration
	Policy       policy.SourceConfig
	Metrics      *policy.Metrics
	Logger       log.Logger
}

// Result is a scored response ready to be written back verbatim.
type Result struct {
	Body        []byte
	Cache       string
	Fingerprint string
}

// Controller deduplicates identical scoring requests against the store and
// forwards misses to the backend.
type Controller struct {
	backend Backend
	cache   *Cache
	policy  *policy.SourcePolicy
	group   singleflight.Group
	logger  log.Logger
}

// New constructs a controller.
func New(backend Backend, cfg Config) (*Controller, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	policyConfig := cfg.Policy
	if policyConfig.Name == "" {
		policyConfig.Name = "crime_backend"
	}
	if policyConfig.Timeout <= 0 {
		policyConfig.Timeout = 30 * time.Second
	}
	sourcePolicy, err := policy.NewSourcePolicy(policyConfig, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Controller{
		backend: backend,
		cache:   NewCache(cfg.Store, cfg.StoreTimeout, cfg.Logger),
		policy:  sourcePolicy,
		logger:  cfg.Logger,
	}, nil
}

// Score returns the cached response for the request's fingerprint, or
// forwards to the backend and caches the answer. Concurrent misses for one
// fingerprint share a single backend call.
func (c *Controller) Score(ctx context.Context, req contract.ScoreRouteRequest) (Result, error) {
	ctx, span := tracer.Start(ctx, "edge.score")
	defer span.End()

	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	fp := fingerprint.Request(req)
	span.SetAttributes(attribute.String("route.fingerprint", fp))

	if body, ok := c.cache.Get(ctx, fp); ok {
		span.SetAttributes(attribute.String("cache", contract.CacheHit))
		return Result{Body: body, Cache: contract.CacheHit, Fingerprint: fp}, nil
	}
	span.SetAttributes(attribute.String("cache", contract.CacheMiss))

	traceID, _ := contract.TraceIDFromContext(ctx)
	forward := req
	forward.RouteID = fp

	// The shared call outlives any single caller; the policy timeout bounds it.
	ch := c.group.DoChan(fp, func() (any, error) {
		callCtx := context.WithoutCancel(ctx)
		var resp sources.Response
		start := time.Now()
		err := c.policy.Execute(callCtx, func(execCtx context.Context) error {
			var callErr error
			resp, callErr = c.backend.Forward(execCtx, forward, traceID)
			return callErr
		})
		obs.RecordBackend(time.Since(start), err)
		if err != nil {
			return nil, err
		}
		c.cache.Set(callCtx, fp, resp.Body)
		return resp.Body, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		span.SetStatus(codes.Error, ctx.Err().Error())
		return Result{}, ctx.Err()
	}
	if res.Err != nil {
		level.Error(c.logger).Log("msg", "backend failed", "fingerprint", fp, "err", res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return Result{}, fmt.Errorf("%w: %s", ErrBackend, backendMessage(res.Err))
	}
	if res.Shared {
		level.Debug(c.logger).Log("msg", "shared in-flight backend call", "fingerprint", fp)
	}

	return Result{Body: res.Val.([]byte), Cache: contract.CacheMiss, Fingerprint: fp}, nil
}

// Ping validates store and backend reachability.
func (c *Controller) Ping(ctx context.Context) (storeErr, backendErr error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.cache.Ping(ctx), c.backend.Ping(ctx)
}

// Circuit reports the backend breaker state.
func (c *Controller) Circuit() policy.CircuitState {
	return c.policy.Circuit().State()
}

func backendMessage(err error) string {
	var statusErr *sources.StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return statusErr.Message
	}
	return err.Error()
}
