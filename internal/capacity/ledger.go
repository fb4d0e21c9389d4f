// Package capacity derives the committed-vs-ceiling view of production
// capacity. The ledger is recomputed from active records on every query; it
// is never a separately mutated counter, so it cannot drift.
//
// The ceiling is applied two ways, preserved from the original system: orders
// and sales are checked per delivery date, while production orders are
// checked against a standing total across all pending orders regardless of
// date.
package capacity

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCeiling is the shared daily production ceiling in units.
const DefaultCeiling = 2000

// Exclude identifies a record that must not count against itself when it is
// being edited. The zero value excludes nothing.
type Exclude struct {
	OrderID      int64
	SaleID       int64
	ProductionID int64
}

// Repository reads committed quantities from active records.
type Repository interface {
	// CommittedForDate sums line-item quantities of non-cancelled orders and
	// sales whose delivery date equals date.
	CommittedForDate(ctx context.Context, date time.Time, excl Exclude) (int64, error)
	// CommittedForProduction sums detail quantities of all pending production
	// orders.
	CommittedForProduction(ctx context.Context, excl Exclude) (int64, error)
}

// Snapshot is the result of a remaining-capacity query.
type Snapshot struct {
	Ceiling   int64 `json:"ceiling"`
	Committed int64 `json:"committed"`
	Remaining int64 `json:"remaining"`
}

// Ledger answers remaining-capacity queries. Reads are deduplicated with
// singleflight; commit-phase callers must instead re-derive the sum inside
// their own transaction immediately before writing.
type Ledger struct {
	repo    Repository
	ceiling int64
	group   singleflight.Group
}

// NewLedger builds a ledger with the given ceiling, falling back to
// DefaultCeiling when non-positive.
func NewLedger(repo Repository, ceiling int64) *Ledger {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Ledger{repo: repo, ceiling: ceiling}
}

// Ceiling returns the configured ceiling.
func (l *Ledger) Ceiling() int64 {
	return l.ceiling
}

// RemainingForDate computes the remaining allowance for the given delivery
// date. A date with no records has the full ceiling available.
func (l *Ledger) RemainingForDate(ctx context.Context, date time.Time, excl Exclude) (Snapshot, error) {
	key := fmt.Sprintf("date:%s:%d:%d", date.Format("2006-01-02"), excl.OrderID, excl.SaleID)
	v, err, _ := l.group.Do(key, func() (any, error) {
		committed, err := l.repo.CommittedForDate(ctx, date, excl)
		if err != nil {
			return Snapshot{}, fmt.Errorf("capacity: committed for date: %w", err)
		}
		return l.snapshot(committed), nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// RemainingForProduction computes the remaining allowance against the
// standing production ceiling.
func (l *Ledger) RemainingForProduction(ctx context.Context, excl Exclude) (Snapshot, error) {
	key := fmt.Sprintf("production:%d", excl.ProductionID)
	v, err, _ := l.group.Do(key, func() (any, error) {
		committed, err := l.repo.CommittedForProduction(ctx, excl)
		if err != nil {
			return Snapshot{}, fmt.Errorf("capacity: committed for production: %w", err)
		}
		return l.snapshot(committed), nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (l *Ledger) snapshot(committed int64) Snapshot {
	remaining := l.ceiling - committed
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{Ceiling: l.ceiling, Committed: committed, Remaining: remaining}
}
