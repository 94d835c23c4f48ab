package fuse

import "math"

// Source names a sub-score signal.
type Source string

const (
	SourceCrime     Source = "crime"
	SourceImagery   Source = "imagery"
	SourceNarrative Source = "narrative"
)

// Sources lists every signal in weighting order.
var Sources = []Source{SourceCrime, SourceImagery, SourceNarrative}

// Fixed weighting policy. Crime data is the primary signal. The weights sum
// to 1.05 and the overall score is not renormalised.
const (
	WeightCrime     = 0.65
	WeightImagery   = 0.25
	WeightNarrative = 0.15
)

// Substitutes used when a reading is missing or failed.
const (
	DefaultCrime     = 0.1
	DefaultImagery   = 0.7
	DefaultNarrative = 0.6
)

// Weight returns the fixed weight for src.
func Weight(src Source) float64 {
	switch src {
	case SourceCrime:
		return WeightCrime
	case SourceImagery:
		return WeightImagery
	case SourceNarrative:
		return WeightNarrative
	}
	return 0
}

// Default returns the substitute value for src.
func Default(src Source) float64 {
	switch src {
	case SourceCrime:
		return DefaultCrime
	case SourceImagery:
		return DefaultImagery
	case SourceNarrative:
		return DefaultNarrative
	}
	return 0
}

// ReadingState describes how far a sub-score has progressed.
type ReadingState int

const (
	// Pending means the scorer has not answered yet.
	Pending ReadingState = iota
	// OK carries a real value.
	OK
	// Unavailable means the scorer answered but has no data for the location.
	Unavailable
	// Failed means the call errored, timed out, or was rejected by policy.
	Failed
)

func (s ReadingState) String() string {
	switch s {
	case OK:
		return "ok"
	case Unavailable:
		return "unavailable"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Reading is one sub-score in [0,1] together with its state.
type Reading struct {
	Value float64
	State ReadingState
	Err   string
}

// Value returns an OK reading, clamped to [0,1].
func Value(v float64) Reading {
	return Reading{Value: clamp01(v), State: OK}
}

// Fail returns a Failed reading carrying err's message.
func Fail(err error) Reading {
	r := Reading{State: Failed}
	if err != nil {
		r.Err = err.Error()
	}
	return r
}

// NotAvailable returns an Unavailable reading.
func NotAvailable() Reading {
	return Reading{State: Unavailable}
}

// Breakdown holds the three readings for one candidate.
type Breakdown struct {
	Crime     Reading
	Imagery   Reading
	Narrative Reading
}

// Reading returns the reading for src.
func (b Breakdown) Reading(src Source) Reading {
	switch src {
	case SourceCrime:
		return b.Crime
	case SourceImagery:
		return b.Imagery
	default:
		return b.Narrative
	}
}

// Failed reports the sources whose reading failed, in weighting order.
func (b Breakdown) Failed() []Source {
	return b.filter(Failed)
}

// Pending reports the sources that have not answered yet.
func (b Breakdown) Pending() []Source {
	return b.filter(Pending)
}

func (b Breakdown) filter(state ReadingState) []Source {
	var out []Source
	for _, src := range Sources {
		if b.Reading(src).State == state {
			out = append(out, src)
		}
	}
	return out
}

// Contribution captures the contribution from a single source to the overall
// score.
type Contribution struct {
	Source    Source
	State     ReadingState
	Raw       float64
	Effective float64
	Weight    float64
	Defaulted bool
}

// Result is the aggregated score with per-source detail.
type Result struct {
	Overall       float64
	Contributions []Contribution
}

// Combine computes overall = Σ weight·value, substituting the per-source
// default for any reading that is not OK.
func Combine(b Breakdown) Result {
	result := Result{Contributions: make([]Contribution, 0, len(Sources))}
	for _, src := range Sources {
		r := b.Reading(src)
		c := Contribution{
			Source: src,
			State:  r.State,
			Raw:    r.Value,
			Weight: Weight(src),
		}
		if r.State == OK {
			c.Effective = clamp01(r.Value)
		} else {
			c.Effective = Default(src)
			c.Defaulted = true
		}
		result.Overall += c.Weight * c.Effective
		result.Contributions = append(result.Contributions, c)
	}
	return result
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
