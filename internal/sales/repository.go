package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delicrem-erp/delicrem-erp/internal/capacity"
	"github.com/delicrem-erp/delicrem-erp/internal/platform/db"
	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// Repository defines sale persistence.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Sale, error)
	List(ctx context.Context, req ListRequest) ([]WithCustomer, int, error)

	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional writes plus the in-transaction capacity
// re-check.
type TxRepository interface {
	Insert(ctx context.Context, s Sale) (int64, error)
	InsertLine(ctx context.Context, l Line) (int64, error)
	DeleteLines(ctx context.Context, saleID int64) error
	UpdateHeader(ctx context.Context, id int64, deliveryDate time.Time, total float64) error
	UpdateStatus(ctx context.Context, id int64, status Status, reason *string) error

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

const saleColumns = `id, number, customer_id, order_id, sale_date, delivery_date, status, cancellation_reason, total, created_at, updated_at`

func (r *repository) GetByID(ctx context.Context, id int64) (*Sale, error) {
	var s Sale
	err := r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1`, id,
	).Scan(&s.ID, &s.Number, &s.CustomerID, &s.OrderID, &s.SaleDate, &s.DeliveryDate,
		&s.Status, &s.CancellationReason, &s.Total, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if s.Lines, err = r.lines(ctx, s.ID); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repository) lines(ctx context.Context, saleID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, sale_id, product_id, quantity, unit_price, subtotal
		 FROM sale_lines WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]WithCustomer, int, error) {
	conditions := "1=1"
	args := []any{}
	argPos := 1

	if req.Status != nil {
		conditions += fmt.Sprintf(" AND s.status = $%d", argPos)
		args = append(args, *req.Status)
		argPos++
	}
	if req.DateFrom != nil {
		conditions += fmt.Sprintf(" AND s.delivery_date >= $%d", argPos)
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		conditions += fmt.Sprintf(" AND s.delivery_date <= $%d", argPos)
		args = append(args, *req.DateTo)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sales s WHERE `+conditions, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT s.id, s.number, s.customer_id, s.order_id, s.sale_date, s.delivery_date,
		       s.status, s.cancellation_reason, s.total, s.created_at, s.updated_at,
		       c.name AS customer_name
		FROM sales s
		JOIN customers c ON c.id = s.customer_id
		WHERE %s
		ORDER BY s.delivery_date DESC, s.id DESC
		LIMIT $%d OFFSET $%d`, conditions, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []WithCustomer
	for rows.Next() {
		var s WithCustomer
		err := rows.Scan(&s.ID, &s.Number, &s.CustomerID, &s.OrderID, &s.SaleDate, &s.DeliveryDate,
			&s.Status, &s.CancellationReason, &s.Total, &s.CreatedAt, &s.UpdatedAt,
			&s.CustomerName)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (t *txRepository) Insert(ctx context.Context, s Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales (number, customer_id, order_id, sale_date, delivery_date, status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id`,
		s.Number, s.CustomerID, s.OrderID, s.SaleDate, s.DeliveryDate, s.Status, s.Total,
	).Scan(&id)
	if err != nil {
		if db.UniqueViolation(err) {
			// Sale numbers derived from an order number are deterministic, so a
			// second sale for the same order lands here.
			return 0, shared.NewValidationError("sale number %s already exists", s.Number)
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepository) InsertLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		l.SaleID, l.ProductID, l.Quantity, l.UnitPrice, l.Subtotal,
	).Scan(&id)
	return id, err
}

func (t *txRepository) DeleteLines(ctx context.Context, saleID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, saleID)
	return err
}

func (t *txRepository) UpdateHeader(ctx context.Context, id int64, deliveryDate time.Time, total float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales SET delivery_date = $2, total = $3, updated_at = NOW() WHERE id = $1`,
		id, deliveryDate, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, reason *string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales SET status = $2, cancellation_reason = $3, updated_at = NOW() WHERE id = $1`,
		id, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) Capacity() capacity.Repository {
	return capacity.NewTxRepository(t.tx)
}
