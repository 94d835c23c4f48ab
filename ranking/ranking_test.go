package ranking

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/route_scoring/candidates"
)

func list(scores ...float64) []candidates.Scored {
	out := make([]candidates.Scored, len(scores))
	for i, s := range scores {
		out[i] = candidates.Scored{
			Candidate: candidates.Candidate{ID: fmt.Sprintf("c%d", i), Label: fmt.Sprintf("route %d", i)},
			Overall:   s,
		}
	}
	return out
}

func overall(snap Snapshot) []float64 {
	out := make([]float64, len(snap.Candidates))
	for i, c := range snap.Candidates {
		out[i] = c.Overall
	}
	return out
}

func TestOutlierFlag(t *testing.T) {
	b := NewBoard(nil)
	b.Begin("run")

	snap := b.Finalize(list(0.80, 0.95, 0.70))
	assert.Equal(t, []float64{0.95, 0.80, 0.70}, overall(snap))
	assert.True(t, snap.Candidates[0].OutlierSafe)
	assert.False(t, snap.Candidates[1].OutlierSafe)

	snap = b.Finalize(list(0.85, 0.80, 0.70))
	assert.False(t, snap.Candidates[0].OutlierSafe)
}

func TestOutlierOnlyAfterFinalize(t *testing.T) {
	b := NewBoard(nil)
	b.Begin("run")

	snap := b.Update(list(0.95, 0.80, 0.70))
	assert.False(t, snap.Candidates[0].OutlierSafe)
	assert.False(t, snap.Final)

	flagged := list(0.95, 0.80)
	flagged[0].OutlierSafe = true
	snap = b.Update(flagged)
	assert.False(t, snap.Candidates[0].OutlierSafe)
}

func TestOutlierSingleCandidate(t *testing.T) {
	assert.False(t, Outlier(list(0.9)))
	assert.False(t, Outlier(nil))
}

func TestLifecycle(t *testing.T) {
	var seen []Snapshot
	b := NewBoard(func(s Snapshot) { seen = append(seen, s) })
	assert.Equal(t, Empty, b.Snapshot().State)

	snap := b.Begin("run-1")
	assert.Equal(t, Loading, snap.State)
	assert.Equal(t, -1, snap.Selected)

	snap = b.Update(list(0.5, 0.7, 0.6))
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, 0, snap.Selected)
	assert.Equal(t, "c1", snap.SelectedID)
	assert.False(t, snap.UserSelected)

	snap, ok := b.Select(2)
	require.True(t, ok)
	assert.Equal(t, Selected, snap.State)
	assert.Equal(t, "c0", snap.SelectedID)

	snap = b.Clear()
	assert.Equal(t, Empty, snap.State)
	assert.Empty(t, snap.Candidates)

	require.Len(t, seen, 4)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Version, seen[i-1].Version)
	}
}

func TestSelectOutOfRangeIsNoop(t *testing.T) {
	b := NewBoard(nil)
	b.Begin("run")
	before := b.Update(list(0.6, 0.4))

	for _, idx := range []int{-1, 2, 99} {
		snap, ok := b.Select(idx)
		assert.False(t, ok)
		assert.Equal(t, before.Version, snap.Version)
		assert.Equal(t, Ready, snap.State)
		assert.Equal(t, before.SelectedID, snap.SelectedID)
	}
}

func TestSelectionPinnedAcrossRerank(t *testing.T) {
	b := NewBoard(nil)
	b.Begin("run")
	b.Update(list(0.9, 0.8, 0.7))

	snap, ok := b.Select(1)
	require.True(t, ok)
	require.Equal(t, "c1", snap.SelectedID)

	rescored := list(0.6, 0.8, 0.95)
	snap = b.Update(rescored)
	assert.Equal(t, Selected, snap.State)
	assert.Equal(t, "c1", snap.SelectedID)
	picked, ok := snap.SelectedCandidate()
	require.True(t, ok)
	assert.Equal(t, "c1", picked.ID)
	assert.Equal(t, 1, snap.Selected)
	assert.True(t, snap.UserSelected)
}

func TestSelectionFallsBackWhenCandidateDrops(t *testing.T) {
	b := NewBoard(nil)
	b.Begin("run")
	b.Update(list(0.9, 0.8, 0.7))
	_, ok := b.Select(2)
	require.True(t, ok)

	snap := b.Update(list(0.9, 0.8))
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, "c0", snap.SelectedID)
	assert.False(t, snap.UserSelected)
}

func TestAutoSelectionFollowsTop(t *testing.T) {
	b := NewBoard(nil)
	b.Begin("run")
	b.Update(list(0.9, 0.8))

	snap := b.Update(list(0.5, 0.8))
	assert.Equal(t, "c1", snap.SelectedID)
	assert.Equal(t, 0, snap.Selected)
}

func TestBeginDiscardsPreviousRun(t *testing.T) {
	b := NewBoard(nil)
	b.Begin("run-1")
	b.Update(list(0.9, 0.8))
	_, _ = b.Select(1)

	snap := b.Begin("run-2")
	assert.Equal(t, Loading, snap.State)
	assert.Equal(t, "run-2", snap.RunID)
	assert.Empty(t, snap.Candidates)
	assert.False(t, snap.UserSelected)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	b := NewBoard(nil)
	b.Begin("run")
	input := list(0.4, 0.6)
	first := b.Update(input)

	input[0].Overall = 0.99
	first.Candidates[0].Overall = 0.01

	again := b.Snapshot()
	assert.Equal(t, []float64{0.6, 0.4}, overall(again))
}

func TestSortIsStableOnTies(t *testing.T) {
	in := list(0.5, 0.5, 0.7)
	Sort(in)
	assert.Equal(t, []string{"c2", "c0", "c1"}, []string{in[0].ID, in[1].ID, in[2].ID})
}
