package policy

import (
	"context"
	"errors"
)

var (
	// ErrCircuitOpen indicates the scorer's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrRateLimited indicates the scorer has no tokens left.
	ErrRateLimited = errors.New("rate limited")
	// ErrBudgetExceeded indicates the request budget is spent.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvalidBudget indicates a negative request budget.
	ErrInvalidBudget = errors.New("invalid budget")
)

// Reason classifies a failed call for logs and fallback metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBudgetExceeded):
		return "budget"
	default:
		return "error"
	}
}
