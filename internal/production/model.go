package production

import (
	"time"

	"github.com/delicrem-erp/delicrem-erp/internal/lifecycle"
)

// Status of a production order.
type Status string

const (
	StatusPending   Status = lifecycle.ProductionPending
	StatusProduced  Status = lifecycle.ProductionProduced
	StatusCancelled Status = lifecycle.Cancelled
)

// Order is a batch instruction aggregating the demand of its associated
// sales into per-product manufacturing quantities.
type Order struct {
	ID                 int64     `json:"id"`
	Number             string    `json:"number"`
	OrderDate          time.Time `json:"order_date"`
	Status             Status    `json:"status"`
	CancellationReason *string   `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Details            []Detail  `json:"details,omitempty"`
	SaleIDs            []int64   `json:"sale_ids,omitempty"`
}

// Detail is one aggregated product line. It is derived from the associated
// sales and never edited directly.
type Detail struct {
	ID                int64 `json:"id"`
	ProductionOrderID int64 `json:"production_order_id"`
	ProductID         int64 `json:"product_id"`
	Quantity          int64 `json:"quantity"`
}

// CandidateSale is a sale eligible for association: active and not claimed
// by another non-cancelled production order.
type CandidateSale struct {
	SaleID       int64     `json:"sale_id"`
	Number       string    `json:"number"`
	CustomerName string    `json:"customer_name"`
	DeliveryDate time.Time `json:"delivery_date"`
	Status       string    `json:"status"`
	Quantity     int64     `json:"quantity"`
}
