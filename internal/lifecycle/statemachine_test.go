package lifecycle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delicrem-erp/delicrem-erp/internal/shared"
)

func TestInitialStates(t *testing.T) {
	assert.Equal(t, OrderAwaitingPayment, Initial(EntityOrder))
	assert.Equal(t, SaleInPreparation, Initial(EntitySale))
	assert.Equal(t, ProductionPending, Initial(EntityProduction))
}

func TestForwardTransitions(t *testing.T) {
	require.NoError(t, Transition(EntityOrder, OrderAwaitingPayment, OrderPaid))
	require.NoError(t, Transition(EntitySale, SaleInPreparation, SaleReadyForDelivery))
	require.NoError(t, Transition(EntitySale, SaleReadyForDelivery, SaleDelivered))
	require.NoError(t, Transition(EntityProduction, ProductionPending, ProductionProduced))
}

func TestBackwardAndSkippingTransitionsRejected(t *testing.T) {
	cases := []struct {
		entity   Entity
		from, to string
	}{
		{EntityOrder, OrderPaid, OrderAwaitingPayment},
		{EntitySale, SaleInPreparation, SaleDelivered},
		{EntitySale, SaleDelivered, SaleReadyForDelivery},
		{EntityProduction, ProductionProduced, ProductionPending},
		{EntityOrder, Cancelled, OrderPaid},
	}
	for _, tc := range cases {
		err := Transition(tc.entity, tc.from, tc.to)
		var transitionErr *shared.InvalidTransitionError
		require.ErrorAs(t, err, &transitionErr, "%s %s->%s", tc.entity, tc.from, tc.to)
		assert.Equal(t, tc.from, transitionErr.From)
		assert.Equal(t, tc.to, transitionErr.To)
	}
}

func TestCancelReasonBoundaries(t *testing.T) {
	assert.Error(t, ValidateCancelReason(strings.Repeat("a", 4)))
	assert.NoError(t, ValidateCancelReason(strings.Repeat("a", 5)))
	assert.NoError(t, ValidateCancelReason(strings.Repeat("a", 30)))
	assert.Error(t, ValidateCancelReason(strings.Repeat("a", 31)))
	assert.Error(t, ValidateCancelReason("     "), "whitespace does not count")
}

func TestCancelFromNonTerminalStates(t *testing.T) {
	require.NoError(t, Cancel(EntityOrder, OrderAwaitingPayment, "client withdrew"))
	require.NoError(t, Cancel(EntityOrder, OrderPaid, "client withdrew"))
	require.NoError(t, Cancel(EntitySale, SaleReadyForDelivery, "damaged batch"))
	require.NoError(t, Cancel(EntityProduction, ProductionPending, "oven failure"))
}

func TestCancelTerminalRejected(t *testing.T) {
	var transitionErr *shared.InvalidTransitionError

	err := Cancel(EntitySale, SaleDelivered, "too late anyway")
	require.ErrorAs(t, err, &transitionErr)

	err = Cancel(EntityProduction, ProductionProduced, "already produced")
	require.ErrorAs(t, err, &transitionErr)

	// Cancelling an already-cancelled record is itself an invalid transition.
	err = Cancel(EntityOrder, Cancelled, "cancel it twice")
	require.ErrorAs(t, err, &transitionErr)
}

func TestCancelValidatesReasonBeforeState(t *testing.T) {
	// Even on a terminal record, a bad reason fails as validation first.
	err := Cancel(EntitySale, SaleDelivered, "abc")
	var validationErr *shared.ValidationError
	require.ErrorAs(t, err, &validationErr)
}
