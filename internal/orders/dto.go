package orders

import (
	"time"

	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// CreateRequest creates a new order.
type CreateRequest struct {
	CustomerID   int64     `json:"customer_id" validate:"required,gt=0"`
	DeliveryDate string    `json:"delivery_date" validate:"required,datetime=2006-01-02"`
	Lines        []LineReq `json:"lines" validate:"required,min=1,dive"`
}

// LineReq is one requested line item.
type LineReq struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"required,gt=0"`
}

// UpdateRequest edits a non-cancelled order.
type UpdateRequest struct {
	DeliveryDate *string    `json:"delivery_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Lines        *[]LineReq `json:"lines,omitempty" validate:"omitempty,min=1,dive"`
}

// PayRequest marks an order as paid.
type PayRequest struct {
	PaymentDate *string `json:"payment_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// CancelRequest cancels an order. Reason bounds are enforced by the
// lifecycle package so the error carries the exact length figures.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ListRequest filters order listings.
type ListRequest struct {
	Status   *Status    `json:"status,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	Limit    int        `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int        `json:"offset" validate:"gte=0"`
}

// ListResponse is the paginated listing body.
type ListResponse struct {
	Orders     []WithCustomer    `json:"orders"`
	Total      int               `json:"total"`
	Pagination shared.Pagination `json:"pagination"`
}
