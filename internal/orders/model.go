package orders

import (
	"time"

	"github.com/delicrem-erp/delicrem-erp/internal/lifecycle"
)

// Status of an order.
type Status string

const (
	StatusAwaitingPayment Status = lifecycle.OrderAwaitingPayment
	StatusPaid            Status = lifecycle.OrderPaid
	StatusCancelled       Status = lifecycle.Cancelled
)

// Order is a customer's forward commitment with a future delivery date.
type Order struct {
	ID                 int64      `json:"id"`
	Number             string     `json:"number"`
	CustomerID         int64      `json:"customer_id"`
	DeliveryDate       time.Time  `json:"delivery_date"`
	PaymentDate        *time.Time `json:"payment_date,omitempty"`
	Status             Status     `json:"status"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	Total              float64    `json:"total"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Lines              []Line     `json:"lines,omitempty"`
}

// Line is one ordered product position.
type Line struct {
	ID        int64   `json:"id"`
	OrderID   int64   `json:"order_id"`
	ProductID int64   `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

// WithCustomer joins the customer name for listings.
type WithCustomer struct {
	Order
	CustomerName string `json:"customer_name"`
}
