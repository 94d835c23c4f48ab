package policy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/saferoute/route_scoring/obs"
)

// BudgetArbiter derives a deadline-bound context and records whether the
// budget was exhausted before the work finished.
type BudgetArbiter struct {
	ctx    context.Context
	cancel context.CancelFunc
	hit    atomic.Bool
}

// NewBudgetArbiter returns an arbiter whose context expires after budgetMS.
// A zero budget means no deadline.
func NewBudgetArbiter(parent context.Context, budgetMS int, metrics *Metrics) (*BudgetArbiter, error) {
	if budgetMS < 0 {
		return nil, ErrInvalidBudget
	}
	if parent == nil {
		parent = context.Background()
	}

	b := &BudgetArbiter{}
	if budgetMS == 0 {
		b.ctx, b.cancel = context.WithCancel(parent)
		return b, nil
	}

	b.ctx, b.cancel = context.WithTimeout(parent, time.Duration(budgetMS)*time.Millisecond)
	go func() {
		<-b.ctx.Done()
		if b.ctx.Err() == context.DeadlineExceeded {
			b.hit.Store(true)
			metrics.IncBudgetHit()
			obs.IncBudgetHit()
		}
	}()
	return b, nil
}

// Context returns the budget-bound context.
func (b *BudgetArbiter) Context() context.Context {
	return b.ctx
}

// Cancel releases the context.
func (b *BudgetArbiter) Cancel() {
	b.cancel()
}

// Hit reports whether the allotted budget was consumed.
func (b *BudgetArbiter) Hit() bool {
	if b == nil {
		return false
	}
	return b.hit.Load()
}
