// Package ledger tracks cumulative per-session spend inside fixed accounting
// windows. Every implementation performs the cap check and the increment as a
// single atomic step.
package ledger

import (
	"context"
	"errors"
	"time"
)

// DefaultWindow is one UTC calendar day.
const DefaultWindow = 24 * time.Hour

var (
	// ErrCapExceeded is returned when an increment would push the window total
	// past the cap. The ledger is left unchanged.
	ErrCapExceeded = errors.New("daily cap exceeded")
	// ErrAmountOutOfRange is returned when a backend cannot represent the amount.
	ErrAmountOutOfRange = errors.New("amount out of range for ledger backend")
)

// Ledger is the spend accounting contract used by the session manager.
type Ledger interface {
	// RecordSpend adds amount to the (sessionID, window) total if the result
	// stays within dailyCap and returns the new total. A zero amount returns
	// the current total without writing.
	RecordSpend(ctx context.Context, sessionID string, window time.Time, amount, dailyCap uint64) (uint64, error)
	// CurrentTotal returns the total spent in the window, 0 when nothing was recorded.
	CurrentTotal(ctx context.Context, sessionID string, window time.Time) (uint64, error)
}

// WindowKey returns the start of the window containing t. Windows are aligned
// to the Unix epoch in UTC, so a 24h window starts at UTC midnight.
func WindowKey(t time.Time, size time.Duration) time.Time {
	if size <= 0 {
		size = DefaultWindow
	}
	return t.UTC().Truncate(size)
}

// fits reports whether total+amount <= limit without overflowing.
func fits(total, amount, limit uint64) bool {
	return amount <= limit && total <= limit-amount
}
