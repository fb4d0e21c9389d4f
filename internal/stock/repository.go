package stock

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) IncrementStock(ctx context.Context, productID, quantity int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`,
		productID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) RecordMovement(ctx context.Context, reference string, adj Adjustment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stock_movements (reference, product_id, quantity, created_at)
		VALUES ($1, $2, $3, NOW())`,
		reference, adj.ProductID, adj.Quantity)
	return err
}
