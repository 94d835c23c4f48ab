// Package ranking orders scored candidates and tracks the selected one.
//
// Every transition produces a new immutable Snapshot with an increasing
// version. Selection is pinned to candidate identity: once a user picks a
// candidate it stays picked across re-ranks for as long as it survives.
package ranking

import (
	"sort"
	"sync"

	"github.com/saferoute/route_scoring/candidates"
)

// OutlierMargin is the lead the top candidate needs over second place to be
// flagged outlier-safe.
const OutlierMargin = 0.1

// State is the board's lifecycle position.
type State int

const (
	Empty State = iota
	Loading
	Ready
	Selected
)

func (s State) String() string {
	switch s {
	case Loading:
		return "candidates-loading"
	case Ready:
		return "candidates-ready"
	case Selected:
		return "candidate-selected"
	default:
		return "empty"
	}
}

// Snapshot is a read-only view of the board. Candidates share backing
// arrays for points, concerns and tips with the board; callers must not
// mutate them.
type Snapshot struct {
	Version    uint64
	RunID      string
	State      State
	Candidates []candidates.Scored
	// Selected is the index of the selected candidate, or -1.
	Selected     int
	SelectedID   string
	UserSelected bool
	// Final is set once outlier flags reflect narrative scores.
	Final bool
}

// SelectedCandidate returns the selected candidate, if any.
func (s Snapshot) SelectedCandidate() (candidates.Scored, bool) {
	if s.Selected < 0 || s.Selected >= len(s.Candidates) {
		return candidates.Scored{}, false
	}
	return s.Candidates[s.Selected], true
}

// Partial reports whether any candidate still waits on a sub-score.
func (s Snapshot) Partial() bool {
	for _, c := range s.Candidates {
		if c.Partial() {
			return true
		}
	}
	return false
}

// Board is the ranking and selection state machine. It is safe for
// concurrent use; notify runs under the board lock and must not call back
// into the board.
type Board struct {
	mu           sync.Mutex
	notify       func(Snapshot)
	version      uint64
	runID        string
	state        State
	list         []candidates.Scored
	selectedID   string
	userSelected bool
	final        bool
}

// NewBoard returns an empty board. notify may be nil.
func NewBoard(notify func(Snapshot)) *Board {
	return &Board{notify: notify}
}

// Snapshot returns the current view without a transition.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Begin starts a new run, discarding the previous list and selection.
func (b *Board) Begin(runID string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runID = runID
	b.list = nil
	b.selectedID = ""
	b.userSelected = false
	b.final = false
	b.state = Loading
	return b.publishLocked()
}

// Update replaces the list with a re-ranked copy of scored. Outlier flags
// are cleared until Finalize.
func (b *Board) Update(scored []candidates.Scored) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rankLocked(scored, false)
	return b.publishLocked()
}

// Finalize re-ranks after the narrative pass and computes the outlier flag.
func (b *Board) Finalize(scored []candidates.Scored) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rankLocked(scored, true)
	return b.publishLocked()
}

// Select records an explicit user choice by index into the current
// snapshot. An out-of-range index is ignored and ok is false.
func (b *Board) Select(index int) (snap Snapshot, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.list) {
		return b.snapshotLocked(), false
	}
	b.selectedID = b.list[index].ID
	b.userSelected = true
	b.state = Selected
	return b.publishLocked(), true
}

// Clear drops the list and returns to Empty.
func (b *Board) Clear() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runID = ""
	b.list = nil
	b.selectedID = ""
	b.userSelected = false
	b.final = false
	b.state = Empty
	return b.publishLocked()
}

func (b *Board) rankLocked(scored []candidates.Scored, final bool) {
	list := make([]candidates.Scored, len(scored))
	copy(list, scored)
	Sort(list)
	for i := range list {
		list[i].OutlierSafe = false
	}
	if final && Outlier(list) {
		list[0].OutlierSafe = true
	}
	b.list = list
	b.final = final

	if len(list) == 0 {
		b.selectedID = ""
		b.userSelected = false
		b.state = Empty
		return
	}
	if b.userSelected && indexOf(list, b.selectedID) >= 0 {
		b.state = Selected
		return
	}
	b.userSelected = false
	b.selectedID = list[0].ID
	b.state = Ready
}

func (b *Board) publishLocked() Snapshot {
	b.version++
	snap := b.snapshotLocked()
	if b.notify != nil {
		b.notify(snap)
	}
	return snap
}

func (b *Board) snapshotLocked() Snapshot {
	list := make([]candidates.Scored, len(b.list))
	copy(list, b.list)
	return Snapshot{
		Version:      b.version,
		RunID:        b.runID,
		State:        b.state,
		Candidates:   list,
		Selected:     indexOf(list, b.selectedID),
		SelectedID:   b.selectedID,
		UserSelected: b.userSelected,
		Final:        b.final,
	}
}

// Sort orders candidates by overall score, highest first. Ties keep input
// order.
func Sort(list []candidates.Scored) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Overall > list[j].Overall
	})
}

// Outlier reports whether the top of a sorted list leads second place by
// more than OutlierMargin. A single candidate has nothing to lead.
func Outlier(sorted []candidates.Scored) bool {
	if len(sorted) < 2 {
		return false
	}
	return sorted[0].Overall-sorted[1].Overall > OutlierMargin
}

func indexOf(list []candidates.Scored, id string) int {
	if id == "" {
		return -1
	}
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
