package sales

import (
	"time"

	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// CreateRequest creates a new sale, either standalone or derived from an
// existing order. When FromOrderNumber is set, lines and delivery date are
// copied from the order and may be omitted here.
type CreateRequest struct {
	CustomerID      int64     `json:"customer_id" validate:"required_without=FromOrderNumber,omitempty,gt=0"`
	FromOrderNumber *string   `json:"from_order_number,omitempty"`
	SaleDate        *string   `json:"sale_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DeliveryDate    *string   `json:"delivery_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Lines           []LineReq `json:"lines,omitempty" validate:"omitempty,dive"`
}

// LineReq is one requested line item.
type LineReq struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"required,gt=0"`
}

// UpdateRequest edits a sale still in preparation.
type UpdateRequest struct {
	DeliveryDate *string    `json:"delivery_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Lines        *[]LineReq `json:"lines,omitempty" validate:"omitempty,min=1,dive"`
}

// CancelRequest cancels a sale.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ListRequest filters sale listings.
type ListRequest struct {
	Status   *Status    `json:"status,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	Limit    int        `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int        `json:"offset" validate:"gte=0"`
}

// ListResponse is the paginated listing body.
type ListResponse struct {
	Sales      []WithCustomer    `json:"sales"`
	Total      int               `json:"total"`
	Pagination shared.Pagination `json:"pagination"`
}
