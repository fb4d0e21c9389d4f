package production

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/delicrem-erp/delicrem-erp/internal/capacity"
	"github.com/delicrem-erp/delicrem-erp/internal/lifecycle"
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockEnqueuer schedules the finished-goods stock adjustment once an order
// is produced. Implemented over asynq; a nil enqueuer disables it.
type StockEnqueuer interface {
	ProductionProduced(ctx context.Context, orderID int64, number string, details []Detail) error
}

// Service orchestrates production order allocation: candidate listing,
// selection aggregation, the standing-ceiling capacity check and the
// exclusive sale association.
type Service struct {
	repo   Repository
	ledger *capacity.Ledger
	guard  *capacity.Guard
	stock  StockEnqueuer
	audit  AuditPort
}

// NewService creates a new service.
func NewService(repo Repository, ledger *capacity.Ledger, guard *capacity.Guard, stock StockEnqueuer, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, guard: guard, stock: stock, audit: audit}
}

// Candidates lists sales eligible for selection. With ownID > 0 the result
// includes that production order's own associated sales, so an edit can
// deselect them.
func (s *Service) Candidates(ctx context.Context, ownID int64) ([]CandidateSale, error) {
	return s.repo.ListCandidates(ctx, ownID)
}

// Create commits a production order over the selected sales: aggregates
// their line items into details, checks the standing production ceiling and
// records the exclusive associations, all atomically.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	sel, err := s.buildSelection(ctx, req.SaleIDs, 0)
	if err != nil {
		return nil, err
	}

	requested := sel.Total()
	excl := capacity.Exclude{}
	if err := s.precheck(ctx, excl, requested); err != nil {
		return nil, err
	}

	order := Order{
		Number:    generateNumber(),
		OrderDate: time.Now(),
		Status:    StatusPending,
	}

	var orderID int64
	err = s.guard.Do(shared.ProductionCapacityLockKey, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := s.recheck(ctx, tx, excl, requested); err != nil {
				return err
			}
			if err := s.verifyUnclaimed(ctx, tx, req.SaleIDs, 0); err != nil {
				return err
			}
			id, err := tx.Insert(ctx, order)
			if err != nil {
				return fmt.Errorf("insert production order: %w", err)
			}
			orderID = id
			return s.writeSelection(ctx, tx, id, sel)
		})
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, orderID)
}

// Update replaces the selection of a pending production order. Its own
// associated sales stay selectable, and its own committed quantity is
// excluded from the ceiling check.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Order, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get production order: %w", err)
	}
	if existing.Status != StatusPending {
		return nil, &shared.InvalidTransitionError{
			Entity: string(lifecycle.EntityProduction), From: string(existing.Status), To: string(StatusPending),
		}
	}

	sel, err := s.buildSelection(ctx, req.SaleIDs, id)
	if err != nil {
		return nil, err
	}

	requested := sel.Total()
	excl := capacity.Exclude{ProductionID: id}
	if err := s.precheck(ctx, excl, requested); err != nil {
		return nil, err
	}

	err = s.guard.Do(shared.ProductionCapacityLockKey, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := s.recheck(ctx, tx, excl, requested); err != nil {
				return err
			}
			if err := s.verifyUnclaimed(ctx, tx, req.SaleIDs, id); err != nil {
				return err
			}
			if err := tx.DeleteDetails(ctx, id); err != nil {
				return err
			}
			if err := tx.DeleteAssociations(ctx, id); err != nil {
				return err
			}
			return s.writeSelection(ctx, tx, id, sel)
		})
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, id)
}

// Produce transitions the order to Produced and schedules the downstream
// finished-goods stock adjustment. Terminal.
func (s *Service) Produce(ctx context.Context, id int64) (*Order, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get production order: %w", err)
	}
	if err := lifecycle.Transition(lifecycle.EntityProduction, string(existing.Status), lifecycle.ProductionProduced); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusProduced, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("mark produced: %w", err)
	}

	if s.stock != nil {
		if err := s.stock.ProductionProduced(ctx, existing.ID, existing.Number, existing.Details); err != nil {
			// The status change is already committed; the adjustment can be
			// replayed from the worker side.
			return nil, fmt.Errorf("enqueue stock adjustment: %w", err)
		}
	}
	return s.repo.GetByID(ctx, id)
}

// Cancel cancels the order with a mandatory reason and releases its sale
// associations, so those sales become eligible for other production orders.
// The detail rows are kept for audit.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (*Order, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get production order: %w", err)
	}
	if err := lifecycle.Cancel(lifecycle.EntityProduction, string(existing.Status), reason); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, id, StatusCancelled, &reason); err != nil {
			return err
		}
		return tx.DeleteAssociations(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel production order: %w", err)
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "production.cancel",
			Entity:   string(lifecycle.EntityProduction),
			EntityID: existing.Number,
			Meta:     map[string]any{"reason": reason},
		})
	}
	return s.repo.GetByID(ctx, id)
}

// Get returns a single production order with details and associations.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns filtered production orders.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Order, int, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// buildSelection validates the requested sale ids against the candidate set
// and folds their line items into a working selection.
func (s *Service) buildSelection(ctx context.Context, saleIDs []int64, ownID int64) (*Selection, error) {
	if len(saleIDs) == 0 {
		return nil, shared.NewValidationError("at least one sale must be selected")
	}

	candidates, err := s.repo.ListCandidates(ctx, ownID)
	if err != nil {
		return nil, fmt.Errorf("list candidate sales: %w", err)
	}
	eligible := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		eligible[c.SaleID] = true
	}

	lines, err := s.repo.SaleLines(ctx, saleIDs)
	if err != nil {
		return nil, fmt.Errorf("load sale lines: %w", err)
	}

	sel := NewSelection()
	for _, id := range saleIDs {
		if !eligible[id] {
			return nil, shared.NewValidationError("sale %d is not an eligible candidate", id)
		}
		items, ok := lines[id]
		if !ok {
			return nil, fmt.Errorf("sale %d: %w", id, shared.ErrNotFound)
		}
		if err := sel.Select(id, items); err != nil {
			return nil, err
		}
	}
	return sel, nil
}

func (s *Service) writeSelection(ctx context.Context, tx TxRepository, orderID int64, sel *Selection) error {
	for _, d := range sel.Details() {
		detail := Detail{ProductionOrderID: orderID, ProductID: d.ProductID, Quantity: d.Quantity}
		if err := tx.InsertDetail(ctx, detail); err != nil {
			return fmt.Errorf("insert detail: %w", err)
		}
	}
	for _, saleID := range sel.SaleIDs() {
		if err := tx.InsertAssociation(ctx, orderID, saleID); err != nil {
			return fmt.Errorf("insert association: %w", err)
		}
	}
	return nil
}

func (s *Service) precheck(ctx context.Context, excl capacity.Exclude, requested int64) error {
	snap, err := s.ledger.RemainingForProduction(ctx, excl)
	if err != nil {
		return err
	}
	if requested > snap.Remaining {
		return &shared.CapacityExceededError{
			Requested: requested, Committed: snap.Committed,
			Remaining: snap.Remaining, Ceiling: snap.Ceiling,
		}
	}
	return nil
}

// recheck re-derives the pending committed sum inside the transaction. A
// failure here, after a passing precheck, means a concurrent commit won the
// race.
func (s *Service) recheck(ctx context.Context, tx TxRepository, excl capacity.Exclude, requested int64) error {
	committed, err := tx.Capacity().CommittedForProduction(ctx, excl)
	if err != nil {
		return err
	}
	if committed+requested > s.ledger.Ceiling() {
		return &shared.ConcurrencyConflictError{
			Key: shared.ProductionCapacityLockKey,
			Cause: &shared.CapacityExceededError{
				Requested: requested, Committed: committed,
				Remaining: s.ledger.Ceiling() - committed, Ceiling: s.ledger.Ceiling(),
			},
		}
	}
	return nil
}

// verifyUnclaimed is the write-time exclusivity backstop: a sale that passed
// the candidate filter may have been claimed by a concurrent commit since.
func (s *Service) verifyUnclaimed(ctx context.Context, tx TxRepository, saleIDs []int64, ownID int64) error {
	claimed, err := tx.AssociatedElsewhere(ctx, saleIDs, ownID)
	if err != nil {
		return err
	}
	if len(claimed) > 0 {
		return &shared.ConcurrencyConflictError{
			Key: fmt.Sprintf("sale:%d:association", claimed[0]),
		}
	}
	return nil
}

func generateNumber() string {
	return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"),
		strings.ToUpper(uuid.NewString()[:8]))
}
