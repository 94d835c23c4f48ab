package candidates

type dedupeKey struct {
	label    string
	distance float64
}

// Dedupe drops candidates whose (label, distance) pair was already seen,
// keeping the first occurrence.
func Dedupe(in []Candidate) []Candidate {
	seen := make(map[dedupeKey]struct{}, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		key := dedupeKey{label: c.Label, distance: c.DistanceM}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Limits are the pre-scoring ceilings. Zero fields take the defaults.
type Limits struct {
	MaxDistanceM float64
	MaxDurationS float64
	MinPoints    int
}

// DefaultLimits returns the standard walking ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxDistanceM: DefaultMaxDistanceM,
		MaxDurationS: DefaultMaxDurationS,
		MinPoints:    DefaultMinPoints,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxDistanceM <= 0 {
		l.MaxDistanceM = def.MaxDistanceM
	}
	if l.MaxDurationS <= 0 {
		l.MaxDurationS = def.MaxDurationS
	}
	if l.MinPoints <= 0 {
		l.MinPoints = def.MinPoints
	}
	return l
}

// Allows reports whether c has a positive distance and passes the ceilings.
func (l Limits) Allows(c Candidate) bool {
	l = l.withDefaults()
	if c.DistanceM <= 0 || c.DistanceM > l.MaxDistanceM || c.DurationS > l.MaxDurationS {
		return false
	}
	return len(c.Points) >= l.MinPoints
}

// Prefilter keeps the candidates within limits, preserving order.
func Prefilter(in []Candidate, limits Limits) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if limits.Allows(c) {
			out = append(out, c)
		}
	}
	return out
}

// LengthFilter drops candidates longer than MaxDetourFactor times the
// shortest candidate in the list. Order is preserved.
func LengthFilter(in []Scored) []Scored {
	if len(in) == 0 {
		return in
	}
	shortest := in[0].DistanceM
	for _, s := range in[1:] {
		if s.DistanceM < shortest {
			shortest = s.DistanceM
		}
	}
	// Without a positive shortest distance there is no detour to measure.
	if shortest <= 0 {
		return in
	}
	limit := shortest * MaxDetourFactor
	out := make([]Scored, 0, len(in))
	for _, s := range in {
		if s.DistanceM <= limit {
			out = append(out, s)
		}
	}
	return out
}
