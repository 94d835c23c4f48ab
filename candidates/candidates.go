// Package candidates holds route candidates through a scoring run: provider
// ingestion, duplicate removal, the pre-scoring plausibility filter and the
// post-scoring length filter.
package candidates

import (
	"strconv"

	"github.com/saferoute/route_scoring/fingerprint"
	"github.com/saferoute/route_scoring/fuse"
	"github.com/saferoute/route_scoring/internal/contract"
)

// Default pre-filter ceilings.
const (
	DefaultMaxDistanceM = 5000
	DefaultMaxDurationS = 3600
	DefaultMinPoints    = 3
)

// MaxDetourFactor bounds a surviving candidate's distance relative to the
// shortest survivor, inclusive.
const MaxDetourFactor = 2.5

// Candidate is one geometric path proposed by the path provider.
type Candidate struct {
	// ID identifies the candidate across re-ranks. It is unique among
	// deduplicated candidates.
	ID        string
	Label     string
	DistanceM float64
	DurationS float64
	Points    []contract.RoutePoint
}

// FromProvider converts provider routes into candidates in response order.
func FromProvider(routes []contract.ProviderRoute) []Candidate {
	out := make([]Candidate, 0, len(routes))
	for _, r := range routes {
		points := make([]contract.RoutePoint, len(r.Points))
		copy(points, r.Points)
		out = append(out, Candidate{
			ID:        candidateID(r.Label, r.DistanceM, points),
			Label:     r.Label,
			DistanceM: r.DistanceM,
			DurationS: r.DurationS,
			Points:    points,
		})
	}
	return out
}

func candidateID(label string, distance float64, points []contract.RoutePoint) string {
	return fingerprint.Parts(label, strconv.FormatFloat(distance, 'f', -1, 64), fingerprint.Points(points))
}

// Geometry returns the fingerprint of the candidate's points.
func (c Candidate) Geometry() string {
	return fingerprint.Points(c.Points)
}

// Scored is a candidate plus its readings and aggregate. Values are copied
// into ranking snapshots, so Points must not be mutated after scoring starts.
type Scored struct {
	Candidate
	Breakdown     fuse.Breakdown
	Contributions []fuse.Contribution
	Overall       float64
	OutlierSafe   bool
	Concerns      []string
	QuickTips     []string
}

// NewScored wraps c with every reading pending.
func NewScored(c Candidate) Scored {
	s := Scored{Candidate: c}
	s.Rescore()
	return s
}

// Rescore recomputes Overall from the current breakdown.
func (s *Scored) Rescore() {
	result := fuse.Combine(s.Breakdown)
	s.Overall = result.Overall
	s.Contributions = result.Contributions
}

// Partial reports whether any reading has not arrived yet.
func (s Scored) Partial() bool {
	return len(s.Breakdown.Pending()) > 0
}

// Degraded reports whether any reading failed and was defaulted.
func (s Scored) Degraded() bool {
	return len(s.Breakdown.Failed()) > 0
}
