package production

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delicrem-erp/delicrem-erp/internal/aggregate"
	"github.com/delicrem-erp/delicrem-erp/internal/capacity"
	"github.com/delicrem-erp/delicrem-erp/internal/platform/db"
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// Repository defines production order persistence.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, req ListRequest) ([]Order, int, error)

	// ListCandidates returns active sales not associated with any
	// non-cancelled production order. With ownID > 0, that order's own
	// associated sales are included so an edit can deselect them.
	ListCandidates(ctx context.Context, ownID int64) ([]CandidateSale, error)

	// SaleLines returns each requested sale's line items, keyed by sale id.
	// Sales missing from the result do not exist.
	SaleLines(ctx context.Context, saleIDs []int64) (map[int64][]aggregate.LineItem, error)

	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional writes plus the in-transaction capacity
// re-check and the association exclusivity backstop.
type TxRepository interface {
	Insert(ctx context.Context, o Order) (int64, error)
	InsertDetail(ctx context.Context, d Detail) error
	DeleteDetails(ctx context.Context, productionID int64) error
	InsertAssociation(ctx context.Context, productionID, saleID int64) error
	DeleteAssociations(ctx context.Context, productionID int64) error
	UpdateStatus(ctx context.Context, id int64, status Status, reason *string) error

	// AssociatedElsewhere returns the subset of saleIDs already claimed by a
	// non-cancelled production order other than ownID. Checked inside the
	// transaction so two concurrent commits cannot both claim a sale.
	AssociatedElsewhere(ctx context.Context, saleIDs []int64, ownID int64) ([]int64, error)

	Capacity() capacity.Repository
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Order, error) {
	var o Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, order_date, status, cancellation_reason, created_at, updated_at
		FROM production_orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.Number, &o.OrderDate, &o.Status, &o.CancellationReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, production_order_id, product_id, quantity
		FROM production_order_details WHERE production_order_id = $1
		ORDER BY product_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d Detail
		if err := rows.Scan(&d.ID, &d.ProductionOrderID, &d.ProductID, &d.Quantity); err != nil {
			return nil, err
		}
		o.Details = append(o.Details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	saleRows, err := r.pool.Query(ctx, `
		SELECT sale_id FROM production_order_sales
		WHERE production_order_id = $1 ORDER BY sale_id`, id)
	if err != nil {
		return nil, err
	}
	defer saleRows.Close()
	for saleRows.Next() {
		var saleID int64
		if err := saleRows.Scan(&saleID); err != nil {
			return nil, err
		}
		o.SaleIDs = append(o.SaleIDs, saleID)
	}
	return &o, saleRows.Err()
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Order, int, error) {
	conditions := "1=1"
	args := []any{}
	argPos := 1

	if req.Status != nil {
		conditions += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *req.Status)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM production_orders WHERE `+conditions, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, number, order_date, status, cancellation_reason, created_at, updated_at
		FROM production_orders
		WHERE %s
		ORDER BY order_date DESC, id DESC
		LIMIT $%d OFFSET $%d`, conditions, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		err := rows.Scan(&o.ID, &o.Number, &o.OrderDate, &o.Status, &o.CancellationReason, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

const candidatesSQL = `
	SELECT s.id, s.number, c.name, s.delivery_date, s.status,
	       COALESCE((SELECT SUM(sl.quantity) FROM sale_lines sl WHERE sl.sale_id = s.id), 0)
	FROM sales s
	JOIN customers c ON c.id = s.customer_id
	WHERE s.status IN ('IN_PREPARATION', 'READY_FOR_DELIVERY')
	  AND NOT EXISTS (
		SELECT 1
		FROM production_order_sales pos
		JOIN production_orders po ON po.id = pos.production_order_id
		WHERE pos.sale_id = s.id
		  AND po.status <> 'CANCELLED'
		  AND ($1 = 0 OR po.id <> $1)
	  )
	ORDER BY s.delivery_date, s.id
`

func (r *repository) ListCandidates(ctx context.Context, ownID int64) ([]CandidateSale, error) {
	rows, err := r.pool.Query(ctx, candidatesSQL, ownID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CandidateSale
	for rows.Next() {
		var c CandidateSale
		if err := rows.Scan(&c.SaleID, &c.Number, &c.CustomerName, &c.DeliveryDate, &c.Status, &c.Quantity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) SaleLines(ctx context.Context, saleIDs []int64) (map[int64][]aggregate.LineItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sale_id, product_id, quantity
		FROM sale_lines WHERE sale_id = ANY($1)
		ORDER BY sale_id, id`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]aggregate.LineItem, len(saleIDs))
	for rows.Next() {
		var saleID int64
		var item aggregate.LineItem
		if err := rows.Scan(&saleID, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		out[saleID] = append(out[saleID], item)
	}
	return out, rows.Err()
}

func (t *txRepository) Insert(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO production_orders (number, order_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id`,
		o.Number, o.OrderDate, o.Status,
	).Scan(&id)
	if err != nil {
		if db.UniqueViolation(err) {
			return 0, shared.NewValidationError("production order number %s already exists", o.Number)
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepository) InsertDetail(ctx context.Context, d Detail) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO production_order_details (production_order_id, product_id, quantity)
		VALUES ($1, $2, $3)`,
		d.ProductionOrderID, d.ProductID, d.Quantity)
	return err
}

func (t *txRepository) DeleteDetails(ctx context.Context, productionID int64) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM production_order_details WHERE production_order_id = $1`, productionID)
	return err
}

func (t *txRepository) InsertAssociation(ctx context.Context, productionID, saleID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO production_order_sales (production_order_id, sale_id)
		VALUES ($1, $2)`,
		productionID, saleID)
	if err != nil {
		// The unique index on sale_id is the cross-process backstop behind
		// AssociatedElsewhere: two transactions cannot both claim a sale.
		if db.UniqueViolation(err) {
			return &shared.ConcurrencyConflictError{Key: fmt.Sprintf("sale:%d:association", saleID)}
		}
		return err
	}
	return nil
}

func (t *txRepository) DeleteAssociations(ctx context.Context, productionID int64) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM production_order_sales WHERE production_order_id = $1`, productionID)
	return err
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, reason *string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE production_orders SET status = $2, cancellation_reason = $3, updated_at = NOW()
		WHERE id = $1`,
		id, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) AssociatedElsewhere(ctx context.Context, saleIDs []int64, ownID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT pos.sale_id
		FROM production_order_sales pos
		JOIN production_orders po ON po.id = pos.production_order_id
		WHERE pos.sale_id = ANY($1)
		  AND po.status <> 'CANCELLED'
		  AND ($2 = 0 OR po.id <> $2)`, saleIDs, ownID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var saleID int64
		if err := rows.Scan(&saleID); err != nil {
			return nil, err
		}
		out = append(out, saleID)
	}
	return out, rows.Err()
}

func (t *txRepository) Capacity() capacity.Repository {
	return capacity.NewTxRepository(t.tx)
}
