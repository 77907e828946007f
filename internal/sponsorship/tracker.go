// Package sponsorship accumulates how much gas each project has sponsored in
// the current accounting window. It is separate from the per-session spend
// ledger. The gas policy evaluator decides on a snapshot of the total;
// ReserveSponsored then re-checks the budget and increments in one step, so
// concurrent requests cannot sponsor past it.
package sponsorship

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned by ReserveSponsored when the amount does not
// fit in the remaining budget. The total is left unchanged.
var ErrBudgetExceeded = errors.New("sponsorship budget exceeded")

// Tracker reads and grows a project's sponsored total for one window.
type Tracker interface {
	SponsoredTotal(ctx context.Context, projectID string, window time.Time) (uint64, error)
	// AddSponsored adds amount to the window total and returns the new total.
	// Totals saturate at the maximum uint64 instead of wrapping.
	AddSponsored(ctx context.Context, projectID string, window time.Time, amount uint64) (uint64, error)
	// ReserveSponsored adds amount only if the new total stays within budget
	// and returns it. Otherwise it returns the current total and
	// ErrBudgetExceeded.
	ReserveSponsored(ctx context.Context, projectID string, window time.Time, amount, budget uint64) (uint64, error)
}

type totalKey struct {
	project string
	window  int64
}

// MemoryTracker is a process-local Tracker.
type MemoryTracker struct {
	mu     sync.Mutex
	totals map[totalKey]uint64
}

// NewMemoryTracker creates an empty MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{totals: make(map[totalKey]uint64)}
}

// SponsoredTotal implements Tracker.
func (t *MemoryTracker) SponsoredTotal(_ context.Context, projectID string, window time.Time) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals[totalKey{projectID, window.Unix()}], nil
}

// AddSponsored implements Tracker.
func (t *MemoryTracker) AddSponsored(_ context.Context, projectID string, window time.Time, amount uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := totalKey{projectID, window.Unix()}
	total := t.totals[k]
	if amount > ^uint64(0)-total {
		total = ^uint64(0)
	} else {
		total += amount
	}
	t.totals[k] = total
	return total, nil
}

// ReserveSponsored implements Tracker.
func (t *MemoryTracker) ReserveSponsored(_ context.Context, projectID string, window time.Time, amount, budget uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := totalKey{projectID, window.Unix()}
	total := t.totals[k]
	if amount > budget || total > budget-amount {
		return total, ErrBudgetExceeded
	}
	total += amount
	t.totals[k] = total
	return total, nil
}
