package orders

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

// Repository defines order persistence.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	List(ctx context.Context, req ListRequest) ([]WithCustomer, int, error)

	// WithTx runs fn inside a repeatable-read transaction; all writes for a
	// single commit go through it as one atomic unit.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional writes plus the in-transaction capacity
// re-check.
type TxRepository interface {
	Insert(ctx context.Context, o Order) (int64, error)
	InsertLine(ctx context.Context, l Line) (int64, error)
	DeleteLines(ctx context.Context, orderID int64) error
	UpdateHeader(ctx context.Context, id int64, deliveryDate time.Time, total float64) error
	MarkPaid(ctx context.Context, id int64, paymentDate time.Time) error
	UpdateStatus(ctx context.Context, id int64, status Status, reason *string) error

	// Capacity re-derives committed sums inside this transaction, immediately
	// before the write.
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

const orderColumns = `id, number, customer_id, delivery_date, payment_date, status, cancellation_reason, total, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.DeliveryDate, &o.PaymentDate,
		&o.Status, &o.CancellationReason, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if o.Lines, err = r.lines(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) GetByNumber(ctx context.Context, number string) (*Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE number = $1`, number))
	if err != nil {
		return nil, err
	}
	if o.Lines, err = r.lines(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) lines(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, subtotal
		 FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
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
		conditions += fmt.Sprintf(" AND o.status = $%d", argPos)
		args = append(args, *req.Status)
		argPos++
	}
	if req.DateFrom != nil {
		conditions += fmt.Sprintf(" AND o.delivery_date >= $%d", argPos)
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		conditions += fmt.Sprintf(" AND o.delivery_date <= $%d", argPos)
		args = append(args, *req.DateTo)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders o WHERE `+conditions, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT o.id, o.number, o.customer_id, o.delivery_date, o.payment_date,
		       o.status, o.cancellation_reason, o.total, o.created_at, o.updated_at,
		       c.name AS customer_name
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		WHERE %s
		ORDER BY o.delivery_date DESC, o.id DESC
		LIMIT $%d OFFSET $%d`, conditions, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []WithCustomer
	for rows.Next() {
		var o WithCustomer
		err := rows.Scan(&o.ID, &o.Number, &o.CustomerID, &o.DeliveryDate, &o.PaymentDate,
			&o.Status, &o.CancellationReason, &o.Total, &o.CreatedAt, &o.UpdatedAt,
			&o.CustomerName)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (t *txRepository) Insert(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (number, customer_id, delivery_date, payment_date, status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id`,
		o.Number, o.CustomerID, o.DeliveryDate, o.PaymentDate, o.Status, o.Total,
	).Scan(&id)
	if err != nil {
		if db.UniqueViolation(err) {
			return 0, shared.NewValidationError("order number %s already exists", o.Number)
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepository) InsertLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_lines (order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		l.OrderID, l.ProductID, l.Quantity, l.UnitPrice, l.Subtotal,
	).Scan(&id)
	return id, err
}

func (t *txRepository) DeleteLines(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID)
	return err
}

func (t *txRepository) UpdateHeader(ctx context.Context, id int64, deliveryDate time.Time, total float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET delivery_date = $2, total = $3, updated_at = NOW() WHERE id = $1`,
		id, deliveryDate, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) MarkPaid(ctx context.Context, id int64, paymentDate time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $2, payment_date = $3, updated_at = NOW() WHERE id = $1`,
		id, StatusPaid, paymentDate)
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
		UPDATE orders SET status = $2, cancellation_reason = $3, updated_at = NOW() WHERE id = $1`,
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
