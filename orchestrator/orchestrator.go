// Package orchestrator runs one safety scoring pass over the candidates for
// an origin and destination: generate, dedupe, pre-filter, provisional
// crime and imagery scoring, length filter, batched narrative scoring and
// the final ranking.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/saferoute/route_scoring/batch"
	"github.com/saferoute/route_scoring/candidates"
	"github.com/saferoute/route_scoring/fuse"
	"github.com/saferoute/route_scoring/internal/contract"
	"github.com/saferoute/route_scoring/obs"
	"github.com/saferoute/route_scoring/policy"
	"github.com/saferoute/route_scoring/ranking"
	"github.com/saferoute/route_scoring/segcache"
	"github.com/saferoute/route_scoring/sources"
)

// ErrNoRoutes is returned when the path provider yields no usable candidate.
var ErrNoRoutes = errors.New("no routes found")

var tracer = otel.Tracer("github.com/saferoute/route_scoring/orchestrator")

const (
	DefaultProvisionalBatch = 8
	DefaultImagerySamples   = 1

	DefaultCrimeTimeout     = 20 * time.Second
	DefaultImageryTimeout   = 30 * time.Second
	DefaultNarrativeTimeout = 90 * time.Second
	DefaultProviderTimeout  = 30 * time.Second

	providerSource = "provider"
)

// DefaultAvoidSets widens the candidate pool with one provider query per
// avoidance hint set.
var DefaultAvoidSets = [][]string{nil, {"highways"}, {"ferries"}}

// PathProvider returns geometric candidates for one query.
type PathProvider interface {
	Routes(ctx context.Context, req contract.ProviderRequest) ([]contract.ProviderRoute, error)
}

// CrimeScorer scores full route geometry, normally through the edge proxy.
type CrimeScorer interface {
	ScoreRoute(ctx context.Context, points []contract.RoutePoint) (sources.CrimeScore, error)
}

// ImageryScorer scores one location.
type ImageryScorer interface {
	ScoreLocation(ctx context.Context, req contract.ImageryRequest) (sources.ImageryScore, error)
}

// NarrativeScorer judges a route description.
type NarrativeScorer interface {
	AnalyzeRoute(ctx context.Context, req contract.NarrativeRequest) (sources.NarrativeScore, error)
}

// Deps are the external collaborators.
type Deps struct {
	Provider  PathProvider
	Crime     CrimeScorer
	Imagery   ImageryScorer
	Narrative NarrativeScorer
}

// Config tunes a run. Zero values take the defaults.
type Config struct {
	AvoidSets        [][]string
	Limits           candidates.Limits
	ProvisionalBatch int
	NarrativeBatch   int
	ImagerySamples   int
	// SegmentCacheSize bounds each per-source memo; zero is unbounded.
	SegmentCacheSize int

	Provider  policy.SourceConfig
	Crime     policy.SourceConfig
	Imagery   policy.SourceConfig
	Narrative policy.SourceConfig

	Metrics *policy.Metrics
	Logger  log.Logger
	// Observer receives every ranking snapshot, in version order.
	Observer func(ranking.Snapshot)
	// Now supplies the local time used for the imagery time context.
	Now func() time.Time
}

// Request names the trip to plan.
type Request struct {
	Origin           contract.RoutePoint
	Destination      contract.RoutePoint
	OriginLabel      string
	DestinationLabel string
}

// Validate checks both endpoints.
func (r Request) Validate() error {
	if !r.Origin.Valid() {
		return fmt.Errorf("origin out of range")
	}
	if !r.Destination.Valid() {
		return fmt.Errorf("destination out of range")
	}
	return nil
}

// Orchestrator owns the candidate list of the current run and the segment
// caches shared across runs. Runs are serialized.
type Orchestrator struct {
	deps      Deps
	cfg       Config
	policies  *policy.Controller
	crime     *segcache.Memo[sources.CrimeScore]
	imagery   *segcache.Memo[sources.ImageryScore]
	narrative *segcache.Memo[sources.NarrativeScore]
	board     *ranking.Board
	logger    log.Logger
	runMu     sync.Mutex
}

// New validates dependencies and builds the per-source policies and caches.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Provider == nil || deps.Crime == nil || deps.Imagery == nil || deps.Narrative == nil {
		return nil, fmt.Errorf("provider and all three scorers are required")
	}
	cfg = withDefaults(cfg)

	policies, err := policy.NewController(policy.ControllerConfig{
		Sources: []policy.SourceConfig{cfg.Provider, cfg.Crime, cfg.Imagery, cfg.Narrative},
	}, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	crimeCache, err := segcache.New[sources.CrimeScore](cfg.SegmentCacheSize)
	if err != nil {
		return nil, err
	}
	imageryCache, err := segcache.New[sources.ImageryScore](cfg.SegmentCacheSize)
	if err != nil {
		return nil, err
	}
	narrativeCache, err := segcache.New[sources.NarrativeScore](cfg.SegmentCacheSize)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		deps:      deps,
		cfg:       cfg,
		policies:  policies,
		crime:     segcache.NewMemo(crimeCache),
		imagery:   segcache.NewMemo(imageryCache),
		narrative: segcache.NewMemo(narrativeCache),
		board:     ranking.NewBoard(cfg.Observer),
		logger:    cfg.Logger,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.AvoidSets == nil {
		cfg.AvoidSets = DefaultAvoidSets
	}
	if cfg.ProvisionalBatch <= 0 {
		cfg.ProvisionalBatch = DefaultProvisionalBatch
	}
	if cfg.NarrativeBatch <= 0 {
		cfg.NarrativeBatch = batch.DefaultSize
	}
	if cfg.ImagerySamples <= 0 {
		cfg.ImagerySamples = DefaultImagerySamples
	}
	cfg.Provider = sourceDefaults(cfg.Provider, providerSource, DefaultProviderTimeout)
	cfg.Crime = sourceDefaults(cfg.Crime, string(fuse.SourceCrime), DefaultCrimeTimeout)
	cfg.Imagery = sourceDefaults(cfg.Imagery, string(fuse.SourceImagery), DefaultImageryTimeout)
	cfg.Narrative = sourceDefaults(cfg.Narrative, string(fuse.SourceNarrative), DefaultNarrativeTimeout)
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

func sourceDefaults(sc policy.SourceConfig, name string, timeout time.Duration) policy.SourceConfig {
	sc.Name = name
	if sc.Timeout <= 0 {
		sc.Timeout = timeout
	}
	return sc
}

// Board exposes the ranking state machine for selection and clearing.
func (o *Orchestrator) Board() *ranking.Board {
	return o.board
}

// Run plans one trip and returns the final snapshot. Scorer and cache
// failures are absorbed into defaulted readings; only a run with no
// candidates fails.
func (o *Orchestrator) Run(ctx context.Context, req Request) (ranking.Snapshot, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if err := req.Validate(); err != nil {
		return ranking.Snapshot{}, err
	}

	start := time.Now()
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("avoid_sets", len(o.cfg.AvoidSets)),
	))
	defer span.End()
	logger := log.With(o.logger, "run_id", runID)

	o.board.Begin(runID)

	pool, err := o.generate(ctx, req, logger)
	if err != nil {
		o.board.Clear()
		span.SetStatus(codes.Error, err.Error())
		return ranking.Snapshot{}, err
	}
	span.SetAttributes(attribute.Int("candidates", len(pool)))

	scored, err := o.provisional(ctx, pool, logger)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return o.board.Snapshot(), err
	}

	ranking.Sort(scored)
	scored = candidates.LengthFilter(scored)
	o.board.Update(scored)

	if err := o.narrativePass(ctx, req, scored, logger); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return o.board.Snapshot(), err
	}

	final := o.board.Finalize(scored)
	o.cfg.Metrics.ObserveRun(time.Since(start))
	level.Info(logger).Log("msg", "run complete", "candidates", len(final.Candidates), "top", topID(final), "duration", time.Since(start))
	return final, nil
}

// generate queries the provider once per avoidance set and returns the
// deduplicated, pre-filtered pool in query order.
func (o *Orchestrator) generate(ctx context.Context, req Request, logger log.Logger) ([]candidates.Candidate, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.generate")
	defer span.End()

	sp, _ := o.policies.Source(providerSource)
	results := make([][]contract.ProviderRoute, len(o.cfg.AvoidSets))
	errs := make([]error, len(o.cfg.AvoidSets))

	g, gctx := errgroup.WithContext(ctx)
	for i, avoid := range o.cfg.AvoidSets {
		g.Go(func() error {
			errs[i] = sp.Execute(gctx, func(callCtx context.Context) error {
				routes, err := o.deps.Provider.Routes(callCtx, contract.ProviderRequest{
					Origin:      req.Origin,
					Destination: req.Destination,
					Avoid:       avoid,
					Mode:        "walking",
				})
				results[i] = routes
				return err
			})
			return nil
		})
	}
	_ = g.Wait()

	var (
		routes  []contract.ProviderRoute
		lastErr error
	)
	for i := range results {
		if errs[i] != nil {
			lastErr = errs[i]
			level.Warn(logger).Log("msg", "provider query failed", "avoid", fmt.Sprint(o.cfg.AvoidSets[i]), "err", errs[i])
			continue
		}
		routes = append(routes, results[i]...)
	}

	pool := candidates.Prefilter(candidates.Dedupe(candidates.FromProvider(routes)), o.cfg.Limits)
	level.Debug(logger).Log("msg", "candidates generated", "raw", len(routes), "kept", len(pool))
	if len(pool) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoRoutes, lastErr)
		}
		return nil, ErrNoRoutes
	}
	return pool, nil
}

// provisional scores crime and imagery for every candidate with narrative
// still pending, publishing the settled candidates after each batch.
func (o *Orchestrator) provisional(ctx context.Context, pool []candidates.Candidate, logger log.Logger) ([]candidates.Scored, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.provisional")
	defer span.End()

	scored := make([]candidates.Scored, len(pool))
	for i, c := range pool {
		scored[i] = candidates.NewScored(c)
	}

	err := batch.Run(ctx, pool, o.cfg.ProvisionalBatch, func(ctx context.Context, c candidates.Candidate) (fuse.Breakdown, error) {
		var b fuse.Breakdown
		var g errgroup.Group
		g.Go(func() error {
			b.Crime = o.scoreCrime(ctx, c, logger)
			return nil
		})
		g.Go(func() error {
			b.Imagery = o.scoreImagery(ctx, c, logger)
			return nil
		})
		_ = g.Wait()
		return b, nil
	}, func(b batch.Span, results []batch.Result[candidates.Candidate, fuse.Breakdown]) {
		obs.IncBatch("provisional")
		for _, r := range results {
			s := &scored[r.Index]
			s.Breakdown.Crime = r.Value.Crime
			s.Breakdown.Imagery = r.Value.Imagery
			s.Rescore()
		}
		// The last batch is published by Run once the length filter has run.
		if b.End < len(pool) {
			o.board.Update(scored[:b.End])
		}
	})
	return scored, err
}

// narrativePass scores the ranked list in narrative batches, publishing a
// re-ranked snapshot after each batch.
func (o *Orchestrator) narrativePass(ctx context.Context, req Request, scored []candidates.Scored, logger log.Logger) error {
	ctx, span := tracer.Start(ctx, "orchestrator.narrative")
	defer span.End()

	return batch.Run(ctx, scored, o.cfg.NarrativeBatch, func(ctx context.Context, s candidates.Scored) (narrativeResult, error) {
		return o.scoreNarrative(ctx, req, s.Candidate, logger), nil
	}, func(b batch.Span, results []batch.Result[candidates.Scored, narrativeResult]) {
		obs.IncBatch("narrative")
		for _, r := range results {
			s := &scored[r.Index]
			s.Breakdown.Narrative = r.Value.reading
			s.Concerns = r.Value.concerns
			s.QuickTips = r.Value.tips
			s.Rescore()
		}
		o.board.Update(scored)
		level.Debug(logger).Log("msg", "narrative batch settled", "batch", b.Number, "size", b.Size())
	})
}

func topID(s ranking.Snapshot) string {
	if len(s.Candidates) == 0 {
		return ""
	}
	return s.Candidates[0].ID
}
