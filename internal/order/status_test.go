package order_test

import (
	"testing"

	"ms-checkout/internal/models"
	"ms-checkout/internal/order"

	"github.com/stretchr/testify/assert"
)

func TestAllowedFromIsStrictlyForward(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{models.StatusPending},
		order.AllowedFrom(models.StatusProcessing))

	assert.ElementsMatch(t,
		[]string{models.StatusPending, models.StatusProcessing},
		order.AllowedFrom(models.StatusPaid))

	assert.ElementsMatch(t,
		[]string{models.StatusPending, models.StatusProcessing, models.StatusPaid},
		order.AllowedFrom(models.StatusShipped))

	assert.ElementsMatch(t,
		[]string{models.StatusPending, models.StatusProcessing, models.StatusPaid, models.StatusShipped},
		order.AllowedFrom(models.StatusDelivered))

	// Nothing may transition into pending.
	assert.Empty(t, order.AllowedFrom(models.StatusPending))
}

func TestCancellationOnlyFromNonTerminal(t *testing.T) {
	allowed := order.AllowedFrom(models.StatusCancelled)
	assert.ElementsMatch(t, []string{models.StatusPending, models.StatusProcessing}, allowed)
	assert.NotContains(t, allowed, models.StatusShipped)
	assert.NotContains(t, allowed, models.StatusDelivered)
	assert.NotContains(t, allowed, models.StatusCancelled)
}

func TestUnknownStatus(t *testing.T) {
	assert.Empty(t, order.AllowedFrom("refunded"))
	assert.False(t, order.ValidStatus("refunded"))
	assert.True(t, order.ValidStatus(models.StatusCancelled))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, order.IsTerminal(models.StatusDelivered))
	assert.True(t, order.IsTerminal(models.StatusCancelled))
	assert.False(t, order.IsTerminal(models.StatusPaid))
}
