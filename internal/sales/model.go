package sales

import (
	"time"

	"github.com/delicrem-erp/delicrem-erp/internal/lifecycle"
)

// Status of a sale.
type Status string

const (
	StatusInPreparation    Status = lifecycle.SaleInPreparation
	StatusReadyForDelivery Status = lifecycle.SaleReadyForDelivery
	StatusDelivered        Status = lifecycle.SaleDelivered
	StatusCancelled        Status = lifecycle.Cancelled
)

// Sale is a committed transaction with line items, possibly originating from
// an order.
type Sale struct {
	ID                 int64     `json:"id"`
	Number             string    `json:"number"`
	CustomerID         int64     `json:"customer_id"`
	OrderID            *int64    `json:"order_id,omitempty"`
	SaleDate           time.Time `json:"sale_date"`
	DeliveryDate       time.Time `json:"delivery_date"`
	Status             Status    `json:"status"`
	CancellationReason *string   `json:"cancellation_reason,omitempty"`
	Total              float64   `json:"total"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Lines              []Line    `json:"lines,omitempty"`
}

// Line is one sold product position.
type Line struct {
	ID        int64   `json:"id"`
	SaleID    int64   `json:"sale_id"`
	ProductID int64   `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

// WithCustomer joins the customer name for listings.
type WithCustomer struct {
	Sale
	CustomerName string `json:"customer_name"`
}
