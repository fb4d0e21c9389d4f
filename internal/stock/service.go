// Package stock applies finished-goods stock adjustments, the downstream
// effect of a production order reaching Produced. The adjustment arrives via
// the background queue so a slow or failing stock write never blocks the
// production status change.
package stock

import (
	"context"
	"fmt"
	"log/slog"
)

// Adjustment is one product increment to apply.
type Adjustment struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// Repository persists stock levels and the movement trail.
type Repository interface {
	// IncrementStock adds quantity to the product's on-hand stock.
	IncrementStock(ctx context.Context, productID, quantity int64) error
	// RecordMovement appends one movement row referencing its source document.
	RecordMovement(ctx context.Context, reference string, adj Adjustment) error
}

// Service applies production output to finished-goods stock.
type Service struct {
	logger *slog.Logger
	repo   Repository
}

// NewService creates a new service.
func NewService(logger *slog.Logger, repo Repository) *Service {
	return &Service{logger: logger, repo: repo}
}

// Apply increments stock for every adjustment, tagging the movement trail
// with the originating production order number. Adjustments are applied
// per product; a failure stops at the failing product so the task can be
// retried (increments already applied are visible in the movement trail).
func (s *Service) Apply(ctx context.Context, reference string, adjustments []Adjustment) error {
	for _, adj := range adjustments {
		if adj.Quantity <= 0 {
			continue
		}
		if err := s.repo.IncrementStock(ctx, adj.ProductID, adj.Quantity); err != nil {
			return fmt.Errorf("stock: increment product %d: %w", adj.ProductID, err)
		}
		if err := s.repo.RecordMovement(ctx, reference, adj); err != nil {
			return fmt.Errorf("stock: record movement for product %d: %w", adj.ProductID, err)
		}
		s.logger.Info("stock adjusted",
			slog.String("reference", reference),
			slog.Int64("product_id", adj.ProductID),
			slog.Int64("quantity", adj.Quantity))
	}
	return nil
}
