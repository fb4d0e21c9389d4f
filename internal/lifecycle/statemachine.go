// Package lifecycle centralises status transitions for orders, sales and
// production orders. Every status change in the system goes through one
// transition table instead of per-handler checks.
package lifecycle

import (
	"strings"
	"unicode/utf8"

	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

// Entity identifies which transition table applies.
type Entity string

const (
	EntityOrder      Entity = "order"
	EntitySale       Entity = "sale"
	EntityProduction Entity = "production_order"
)

// Status values across all three entities.
const (
	// Order statuses.
	OrderAwaitingPayment = "AWAITING_PAYMENT"
	OrderPaid            = "PAID"

	// Sale statuses.
	SaleInPreparation    = "IN_PREPARATION"
	SaleReadyForDelivery = "READY_FOR_DELIVERY"
	SaleDelivered        = "DELIVERED"

	// Production order statuses.
	ProductionPending  = "PENDING"
	ProductionProduced = "PRODUCED"

	// Cancelled is terminal for every entity.
	Cancelled = "CANCELLED"
)

// Cancellation reason bounds, inclusive.
const (
	ReasonMinLen = 5
	ReasonMaxLen = 30
)

// forward lists the legal forward moves per entity. Cancel is handled
// separately: it is reachable from any non-terminal state.
var forward = map[Entity]map[string][]string{
	EntityOrder: {
		OrderAwaitingPayment: {OrderPaid},
	},
	EntitySale: {
		SaleInPreparation:    {SaleReadyForDelivery},
		SaleReadyForDelivery: {SaleDelivered},
	},
	EntityProduction: {
		ProductionPending: {ProductionProduced},
	},
}

// terminal states admit no further transition, including Cancel.
// A paid order has no forward moves left but may still be cancelled, matching
// the billing flow; delivered sales and produced orders may not.
var terminal = map[Entity]map[string]bool{
	EntityOrder:      {Cancelled: true},
	EntitySale:       {SaleDelivered: true, Cancelled: true},
	EntityProduction: {ProductionProduced: true, Cancelled: true},
}

// Initial returns the creation status for the entity.
func Initial(e Entity) string {
	switch e {
	case EntityOrder:
		return OrderAwaitingPayment
	case EntitySale:
		return SaleInPreparation
	default:
		return ProductionPending
	}
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(e Entity, status string) bool {
	return terminal[e][status]
}

// Transition validates a forward move and returns an InvalidTransitionError
// when the move is not in the table.
func Transition(e Entity, from, to string) error {
	for _, next := range forward[e][from] {
		if next == to {
			return nil
		}
	}
	return &shared.InvalidTransitionError{Entity: string(e), From: from, To: to}
}

// ValidateCancelReason enforces the mandatory reason length, counted in
// characters, bounds inclusive.
func ValidateCancelReason(reason string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(reason))
	if n < ReasonMinLen || n > ReasonMaxLen {
		return shared.NewValidationError("cancellation reason must be between %d and %d characters, got %d",
			ReasonMinLen, ReasonMaxLen, n)
	}
	return nil
}

// Cancel validates the reason first, then the transition. Reason validation
// failures never touch state; cancelling a terminal record is an invalid
// transition, so cancelling twice always fails.
func Cancel(e Entity, from, reason string) error {
	if err := ValidateCancelReason(reason); err != nil {
		return err
	}
	if IsTerminal(e, from) {
		return &shared.InvalidTransitionError{Entity: string(e), From: from, To: Cancelled}
	}
	return nil
}
