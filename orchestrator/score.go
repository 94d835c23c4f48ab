package orchestrator

import (
	"context"
	"errors"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/saferoute/route_scoring/candidates"
	"github.com/saferoute/route_scoring/fingerprint"
	"github.com/saferoute/route_scoring/fuse"
	"github.com/saferoute/route_scoring/internal/contract"
	"github.com/saferoute/route_scoring/obs"
	"github.com/saferoute/route_scoring/policy"
	"github.com/saferoute/route_scoring/sources"
)

var errNoImagery = errors.New("every imagery sample failed")

type narrativeResult struct {
	reading  fuse.Reading
	concerns []string
	tips     []string
}

// call runs fn under the named source policy.
func call[V any](ctx context.Context, o *Orchestrator, src fuse.Source, fn func(context.Context) (V, error)) (V, error) {
	var out V
	sp, _ := o.policies.Source(string(src))
	err := sp.Execute(ctx, func(callCtx context.Context) error {
		var err error
		out, err = fn(callCtx)
		return err
	})
	return out, err
}

func (o *Orchestrator) fallback(logger log.Logger, src fuse.Source, c candidates.Candidate, err error) fuse.Reading {
	obs.IncFallback(string(src))
	level.Warn(logger).Log("msg", "scorer failed, using default", "source", src, "reason", policy.Reason(err), "candidate", c.ID, "fingerprint", c.Geometry(), "err", err)
	return fuse.Fail(err)
}

func (o *Orchestrator) scoreCrime(ctx context.Context, c candidates.Candidate, logger log.Logger) fuse.Reading {
	key := "crime:" + c.Geometry()
	score, _, err := o.crime.Do(ctx, key, func(ctx context.Context) (sources.CrimeScore, error) {
		return call(ctx, o, fuse.SourceCrime, func(ctx context.Context) (sources.CrimeScore, error) {
			return o.deps.Crime.ScoreRoute(ctx, c.Points)
		})
	})
	if err != nil {
		return o.fallback(logger, fuse.SourceCrime, c, err)
	}
	return fuse.Value(score.Value)
}

// scoreImagery scores each sampled location and takes the weighted mean of
// the ones with imagery.
func (o *Orchestrator) scoreImagery(ctx context.Context, c candidates.Candidate, logger log.Logger) fuse.Reading {
	samples := sampleLocations(c.Points, o.cfg.ImagerySamples)
	tc := timeContext(o.cfg.Now())

	type outcome struct {
		score sources.ImageryScore
		err   error
	}
	outcomes := make([]outcome, len(samples))
	var g errgroup.Group
	for i, s := range samples {
		g.Go(func() error {
			key := "imagery:" + fingerprint.Parts(fingerprint.Location(s.Point), tc)
			score, _, err := o.imagery.Do(ctx, key, func(ctx context.Context) (sources.ImageryScore, error) {
				return call(ctx, o, fuse.SourceImagery, func(ctx context.Context) (sources.ImageryScore, error) {
					return o.deps.Imagery.ScoreLocation(ctx, contract.ImageryRequest{
						Address:     coordinates(s.Point),
						Coordinates: coordinates(s.Point),
						TimeContext: tc,
						SegmentType: s.Kind,
					})
				})
			})
			outcomes[i] = outcome{score: score, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		sum, weights float64
		unavailable  int
		firstErr     error
	)
	for i, out := range outcomes {
		switch {
		case out.err != nil:
			if firstErr == nil {
				firstErr = out.err
			}
		case !out.score.Available:
			unavailable++
		default:
			sum += out.score.Value * samples[i].Weight
			weights += samples[i].Weight
		}
	}

	switch {
	case weights > 0:
		if firstErr != nil {
			level.Debug(logger).Log("msg", "imagery samples partially failed", "candidate", c.ID, "err", firstErr)
		}
		return fuse.Value(sum / weights)
	case unavailable > 0:
		return fuse.NotAvailable()
	case firstErr != nil:
		return o.fallback(logger, fuse.SourceImagery, c, firstErr)
	default:
		return o.fallback(logger, fuse.SourceImagery, c, errNoImagery)
	}
}

func (o *Orchestrator) scoreNarrative(ctx context.Context, req Request, c candidates.Candidate, logger log.Logger) narrativeResult {
	nreq := narrativeRequest(req, c)
	key := "narrative:" + fingerprint.Parts(nreq.Origin, nreq.Destination, c.Geometry())
	score, _, err := o.narrative.Do(ctx, key, func(ctx context.Context) (sources.NarrativeScore, error) {
		return call(ctx, o, fuse.SourceNarrative, func(ctx context.Context) (sources.NarrativeScore, error) {
			return o.deps.Narrative.AnalyzeRoute(ctx, nreq)
		})
	})
	if err != nil {
		return narrativeResult{reading: o.fallback(logger, fuse.SourceNarrative, c, err)}
	}
	return narrativeResult{
		reading:  fuse.Value(score.Value),
		concerns: score.Concerns,
		tips:     score.QuickTips,
	}
}

func narrativeRequest(req Request, c candidates.Candidate) contract.NarrativeRequest {
	summary := normalizeLabel(c.Label)
	if summary != "" {
		summary = "Route via " + summary
	}
	return contract.NarrativeRequest{
		Origin:      placeLabel(req.OriginLabel, req.Origin),
		Destination: placeLabel(req.DestinationLabel, req.Destination),
		RouteDetails: contract.RouteDetails{
			Distance: formatDistance(c.DistanceM),
			Duration: formatDuration(c.DurationS),
			Summary:  summary,
		},
	}
}
