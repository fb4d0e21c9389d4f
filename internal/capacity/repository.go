package capacity

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx covers both a pool and an open transaction, so the same queries serve
// the read-only ledger and the commit-phase re-check inside a transaction.
type dbtx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db dbtx
}

// NewRepository builds a pool-backed repository for ledger reads.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

// NewTxRepository builds a repository bound to an open transaction, used to
// re-derive the committed sum immediately before a write.
func NewTxRepository(tx pgx.Tx) Repository {
	return &repository{db: tx}
}

const committedForDateSQL = `
	SELECT
		COALESCE((
			SELECT SUM(ol.quantity)
			FROM order_lines ol
			JOIN orders o ON o.id = ol.order_id
			WHERE o.delivery_date = $1
			  AND o.status <> 'CANCELLED'
			  AND ($2 = 0 OR o.id <> $2)
		), 0)
		+
		COALESCE((
			SELECT SUM(sl.quantity)
			FROM sale_lines sl
			JOIN sales s ON s.id = sl.sale_id
			WHERE s.delivery_date = $1
			  AND s.status <> 'CANCELLED'
			  AND ($3 = 0 OR s.id <> $3)
		), 0)
`

func (r *repository) CommittedForDate(ctx context.Context, date time.Time, excl Exclude) (int64, error) {
	var committed int64
	err := r.db.QueryRow(ctx, committedForDateSQL, date, excl.OrderID, excl.SaleID).Scan(&committed)
	if err != nil {
		return 0, err
	}
	return committed, nil
}

const committedForProductionSQL = `
	SELECT COALESCE(SUM(d.quantity), 0)
	FROM production_order_details d
	JOIN production_orders po ON po.id = d.production_order_id
	WHERE po.status = 'PENDING'
	  AND ($1 = 0 OR po.id <> $1)
`

func (r *repository) CommittedForProduction(ctx context.Context, excl Exclude) (int64, error) {
	var committed int64
	err := r.db.QueryRow(ctx, committedForProductionSQL, excl.ProductionID).Scan(&committed)
	if err != nil {
		return 0, err
	}
	return committed, nil
}
