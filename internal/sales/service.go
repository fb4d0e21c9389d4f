package sales

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
	"github.com/delicrem-erp/delicrem-erp/internal/orders"
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// OrderSource looks up orders when a sale is derived from one.
type OrderSource interface {
	GetByNumber(ctx context.Context, number string) (*orders.Order, error)
}

// Service provides business logic for sales.
type Service struct {
	repo    Repository
	orders  OrderSource
	catalog catalog.Repository
	ledger  *capacity.Ledger
	guard   *capacity.Guard
	audit   AuditPort
}

// NewService creates a new service.
func NewService(repo Repository, src OrderSource, cat catalog.Repository, ledger *capacity.Ledger, guard *capacity.Guard, audit AuditPort) *Service {
	return &Service{repo: repo, orders: src, catalog: cat, ledger: ledger, guard: guard, audit: audit}
}

// Create validates the request, checks the per-date capacity ceiling and
// persists the sale with its lines atomically. With FromOrderNumber set, the
// customer, lines and delivery date come from the referenced order.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Sale, error) {
	var (
		orderID *int64
		number  string
	)

	if req.FromOrderNumber != nil {
		src, err := s.orders.GetByNumber(ctx, *req.FromOrderNumber)
		if err != nil {
			return nil, fmt.Errorf("get source order: %w", err)
		}
		if src.Status == orders.StatusCancelled {
			return nil, shared.NewValidationError("order %s is cancelled", src.Number)
		}
		orderID = &src.ID
		number = deriveNumber(src.Number)
		req.CustomerID = src.CustomerID
		if req.DeliveryDate == nil {
			d := src.DeliveryDate.Format("2006-01-02")
			req.DeliveryDate = &d
		}
		if len(req.Lines) == 0 {
			for _, l := range src.Lines {
				req.Lines = append(req.Lines, LineReq{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
			}
		}
	} else {
		number = generateNumber()
	}

	if req.DeliveryDate == nil {
		return nil, shared.NewValidationError("delivery date is required")
	}
	deliveryDate, err := ParseDate(*req.DeliveryDate)
	if err != nil {
		return nil, err
	}
	if err := ValidateLines(req.Lines); err != nil {
		return nil, err
	}
	if err := ValidateDeliveryDate(deliveryDate); err != nil {
		return nil, err
	}

	now := time.Now()
	saleDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if req.SaleDate != nil {
		if saleDate, err = ParseDate(*req.SaleDate); err != nil {
			return nil, err
		}
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

	sale := Sale{
		Number:       number,
		CustomerID:   req.CustomerID,
		OrderID:      orderID,
		SaleDate:     saleDate,
		DeliveryDate: deliveryDate,
		Status:       StatusInPreparation,
		Total:        total,
	}

	var saleID int64
	err = s.guard.Do(shared.DateCapacityLockKey(deliveryDate), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := s.recheck(ctx, tx, deliveryDate, capacity.Exclude{}, requested); err != nil {
				return err
			}
			id, err := tx.Insert(ctx, sale)
			if err != nil {
				return fmt.Errorf("insert sale: %w", err)
			}
			saleID = id
			for _, l := range lines {
				l.SaleID = id
				if _, err := tx.InsertLine(ctx, l); err != nil {
					return fmt.Errorf("insert sale line: %w", err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, saleID)
}

// Update replaces the delivery date and/or lines of a sale still in
// preparation. The capacity check excludes the sale's own committed quantity.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Sale, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get sale: %w", err)
	}
	if existing.Status != StatusInPreparation {
		return nil, &shared.InvalidTransitionError{
			Entity: string(lifecycle.EntitySale), From: string(existing.Status), To: string(StatusInPreparation),
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
	excl := capacity.Exclude{SaleID: id}

	if err := s.precheck(ctx, deliveryDate, excl, requested); err != nil {
		return nil, err
	}

	err = s.guard.Do(shared.DateCapacityLockKey(deliveryDate), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := s.recheck(ctx, tx, deliveryDate, excl, requested); err != nil {
				return err
			}
			if err := tx.UpdateHeader(ctx, id, deliveryDate, total); err != nil {
				return fmt.Errorf("update sale: %w", err)
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

// MarkReady transitions the sale to ReadyForDelivery.
func (s *Service) MarkReady(ctx context.Context, id int64) (*Sale, error) {
	return s.advance(ctx, id, lifecycle.SaleReadyForDelivery)
}

// MarkDelivered transitions the sale to Delivered. Terminal.
func (s *Service) MarkDelivered(ctx context.Context, id int64) (*Sale, error) {
	return s.advance(ctx, id, lifecycle.SaleDelivered)
}

func (s *Service) advance(ctx context.Context, id int64, target string) (*Sale, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get sale: %w", err)
	}
	if err := lifecycle.Transition(lifecycle.EntitySale, string(existing.Status), target); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, Status(target), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("update sale status: %w", err)
	}
	return s.repo.GetByID(ctx, id)
}

// Cancel cancels the sale with a mandatory reason. Irreversible. The capacity
// it consumed on its delivery date is released by derivation; quantities
// already committed to a production order stay committed there.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (*Sale, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get sale: %w", err)
	}
	if err := lifecycle.Cancel(lifecycle.EntitySale, string(existing.Status), reason); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled, &reason)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel sale: %w", err)
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "sale.cancel",
			Entity:   string(lifecycle.EntitySale),
			EntityID: existing.Number,
			Meta:     map[string]any{"reason": reason},
		})
	}
	return s.repo.GetByID(ctx, id)
}

// Get returns a single sale with lines.
func (s *Service) Get(ctx context.Context, id int64) (*Sale, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns filtered sales.
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

func buildLines(saleID int64, reqs []LineReq) ([]Line, float64) {
	lines := make([]Line, 0, len(reqs))
	var total float64
	for _, lr := range reqs {
		subtotal := float64(lr.Quantity) * lr.UnitPrice
		total += subtotal
		lines = append(lines, Line{
			SaleID:    saleID,
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
	return fmt.Sprintf("VTA-%s-%s", time.Now().Format("20060102"),
		strings.ToUpper(uuid.NewString()[:8]))
}

// deriveNumber turns an order number into the matching sale number, keeping
// the date and suffix so the two documents are visibly related.
func deriveNumber(orderNumber string) string {
	if rest, ok := strings.CutPrefix(orderNumber, "PED-"); ok {
		return "VTA-" + rest
	}
	return generateNumber()
}
