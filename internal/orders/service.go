package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/delicrem-erp/delicrem-erp/internal/aggregate"
	"github.com/delicrem-erp/delicrem-erp/internal/capacity"
	"github.com/delicrem-erp/delicrem-erp/internal/catalog"
	"github.com/delicrem-erp/delicrem-erp/internal/lifecycle"
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service provides business logic for orders.
type Service struct {
	repo    Repository
	catalog catalog.Repository
	ledger  *capacity.Ledger
	guard   *capacity.Guard
	audit   AuditPort
}

// NewService creates a new service.
func NewService(repo Repository, cat catalog.Repository, ledger *capacity.Ledger, guard *capacity.Guard, audit AuditPort) *Service {
	return &Service{repo: repo, catalog: cat, ledger: ledger, guard: guard, audit: audit}
}

// Create validates the request, checks the per-date capacity ceiling and
// persists the order with its lines atomically.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	deliveryDate, err := ParseDate(req.DeliveryDate)
	if err != nil {
		return nil, err
	}
	if err := ValidateLines(req.Lines); err != nil {
		return nil, err
	}
	if err := ValidateDeliveryDate(deliveryDate); err != nil {
		return nil, err
	}

	if _, err := s.catalog.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, fmt.Errorf("verify customer: %w", err)
	}
	if err := s.verifyProducts(ctx, req.Lines); err != nil {
		return nil, err
	}

	lines, total := buildLines(0, req.Lines)
	requested := requestedQuantity(req.Lines)

	// Fast fail before taking the lock; the authoritative check happens
	// inside the transaction below.
	if err := s.precheck(ctx, deliveryDate, capacity.Exclude{}, requested); err != nil {
		return nil, err
	}

	order := Order{
		Number:       generateNumber(),
		CustomerID:   req.CustomerID,
		DeliveryDate: deliveryDate,
		Status:       StatusAwaitingPayment,
		Total:        total,
	}

	var orderID int64
	err = s.guard.Do(shared.DateCapacityLockKey(deliveryDate), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := s.recheck(ctx, tx, deliveryDate, capacity.Exclude{}, requested); err != nil {
				return err
			}
			id, err := tx.Insert(ctx, order)
			if err != nil {
				return fmt.Errorf("insert order: %w", err)
			}
			orderID = id
			for _, l := range lines {
				l.OrderID = id
				if _, err := tx.InsertLine(ctx, l); err != nil {
					return fmt.Errorf("insert order line: %w", err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, orderID)
}

// Update replaces the delivery date and/or lines of a non-cancelled order.
// The capacity check excludes the order's own committed quantity.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Order, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if existing.Status == StatusCancelled {
		return nil, &shared.InvalidTransitionError{
			Entity: string(lifecycle.EntityOrder), From: string(existing.Status), To: string(existing.Status),
		}
	}

	deliveryDate := existing.DeliveryDate
	if req.DeliveryDate != nil {
		if deliveryDate, err = ParseDate(*req.DeliveryDate); err != nil {
			return nil, err
		}
		if err := ValidateDeliveryDate(deliveryDate); err != nil {
			return nil, err
		}
	}

	lineReqs := existingLineReqs(existing.Lines)
	if req.Lines != nil {
		lineReqs = *req.Lines
	}
	if err := ValidateLines(lineReqs); err != nil {
		return nil, err
	}
	if err := s.verifyProducts(ctx, lineReqs); err != nil {
		return nil, err
	}

	lines, total := buildLines(id, lineReqs)
	requested := requestedQuantity(lineReqs)
	excl := capacity.Exclude{OrderID: id}

	if err := s.precheck(ctx, deliveryDate, excl, requested); err != nil {
		return nil, err
	}

	err = s.guard.Do(shared.DateCapacityLockKey(deliveryDate), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := s.recheck(ctx, tx, deliveryDate, excl, requested); err != nil {
				return err
			}
			if err := tx.UpdateHeader(ctx, id, deliveryDate, total); err != nil {
				return fmt.Errorf("update order: %w", err)
			}
			if err := tx.DeleteLines(ctx, id); err != nil {
				return err
			}
			for _, l := range lines {
				if _, err := tx.InsertLine(ctx, l); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, id)
}

// Pay transitions the order to Paid and records the payment date.
func (s *Service) Pay(ctx context.Context, id int64, req PayRequest) (*Order, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := lifecycle.Transition(lifecycle.EntityOrder, string(existing.Status), lifecycle.OrderPaid); err != nil {
		return nil, err
	}

	paymentDate := time.Now()
	if req.PaymentDate != nil {
		if paymentDate, err = ParseDate(*req.PaymentDate); err != nil {
			return nil, err
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.MarkPaid(ctx, id, paymentDate)
	})
	if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}
	return s.repo.GetByID(ctx, id)
}

// Cancel cancels the order with a mandatory reason. Irreversible.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (*Order, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := lifecycle.Cancel(lifecycle.EntityOrder, string(existing.Status), reason); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled, &reason)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "order.cancel",
			Entity:   string(lifecycle.EntityOrder),
			EntityID: existing.Number,
			Meta:     map[string]any{"reason": reason},
		})
	}
	return s.repo.GetByID(ctx, id)
}

// Get returns a single order with lines.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns filtered orders.
func (s *Service) List(ctx context.Context, req ListRequest) ([]WithCustomer, int, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

func (s *Service) precheck(ctx context.Context, date time.Time, excl capacity.Exclude, requested int64) error {
	snap, err := s.ledger.RemainingForDate(ctx, date, excl)
	if err != nil {
		return err
	}
	if requested > snap.Remaining {
		d := date
		return &shared.CapacityExceededError{
			Date: &d, Requested: requested, Committed: snap.Committed,
			Remaining: snap.Remaining, Ceiling: snap.Ceiling,
		}
	}
	return nil
}

// recheck re-derives the committed sum inside the transaction. A failure
// here, after a passing precheck, means a concurrent commit won the race.
func (s *Service) recheck(ctx context.Context, tx TxRepository, date time.Time, excl capacity.Exclude, requested int64) error {
	committed, err := tx.Capacity().CommittedForDate(ctx, date, excl)
	if err != nil {
		return err
	}
	if committed+requested > s.ledger.Ceiling() {
		d := date
		return &shared.ConcurrencyConflictError{
			Key: shared.DateCapacityLockKey(date),
			Cause: &shared.CapacityExceededError{
				Date: &d, Requested: requested, Committed: committed,
				Remaining: s.ledger.Ceiling() - committed, Ceiling: s.ledger.Ceiling(),
			},
		}
	}
	return nil
}

func (s *Service) verifyProducts(ctx context.Context, lines []LineReq) error {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return fmt.Errorf("verify products: %w", err)
	}
	for _, l := range lines {
		if _, ok := products[l.ProductID]; !ok {
			return fmt.Errorf("product %d: %w", l.ProductID, shared.ErrNotFound)
		}
	}
	return nil
}

func buildLines(orderID int64, reqs []LineReq) ([]Line, float64) {
	lines := make([]Line, 0, len(reqs))
	var total float64
	for _, lr := range reqs {
		subtotal := float64(lr.Quantity) * lr.UnitPrice
		total += subtotal
		lines = append(lines, Line{
			OrderID:   orderID,
			ProductID: lr.ProductID,
			Quantity:  lr.Quantity,
			UnitPrice: lr.UnitPrice,
			Subtotal:  subtotal,
		})
	}
	return lines, total
}

func requestedQuantity(reqs []LineReq) int64 {
	items := make([]aggregate.LineItem, 0, len(reqs))
	for _, lr := range reqs {
		items = append(items, aggregate.LineItem{ProductID: lr.ProductID, Quantity: lr.Quantity})
	}
	return aggregate.Total(aggregate.New(items))
}

func existingLineReqs(lines []Line) []LineReq {
	out := make([]LineReq, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineReq{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}

func generateNumber() string {
	return fmt.Sprintf("PED-%s-%s", time.Now().Format("20060102"),
		strings.ToUpper(uuid.NewString()[:8]))
}
