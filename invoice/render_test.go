package invoice_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/types"
)

func sample() *invoice.Invoice {
	return &invoice.Invoice{
		ID:          id.NewInvoiceID(),
		Kind:        invoice.KindStandard,
		Status:      invoice.StatusPending,
		Currency:    "usd",
		PeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		DueDate:     time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC),
		LineItems: []invoice.LineItem{
			{Type: invoice.LineItemFlatFee, Quantity: 1, UnitAmount: types.USD(100000), Amount: types.USD(100000)},
			{Type: invoice.LineItemUsage, Category: meter.CategoryStorageDelta, Quantity: 650, Included: 500, UnitAmount: types.USD(15), Amount: types.USD(2250)},
		},
		Discounts: []discount.Applied{
			{Kind: discount.KindFounding, Percent: decimal.NewFromInt(25), Amount: types.USD(25000)},
		},
		Total: types.USD(77250),
	}
}

func TestRender(t *testing.T) {
	inv := sample()
	out, err := invoice.Render(inv, "Acme Legal")
	require.NoError(t, err)

	assert.Contains(t, out, "Invoice "+inv.ID.String()+" for Acme Legal")
	assert.Contains(t, out, "Usage period: 2024-01-01 to 2024-02-01")
	assert.Contains(t, out, "Flat fee: $1000.00")
	assert.Contains(t, out, "storage delta: 650 over 500 included x $0.15 = $22.50")
	assert.Contains(t, out, "Discount founding (25%): -$250.00")
	assert.Contains(t, out, "Total: $772.50")
	assert.Contains(t, out, "Due: 2024-02-15")
}

func TestRenderPaidAndConverted(t *testing.T) {
	inv := sample()
	inv.Status = invoice.StatusPaid
	inv.Conversion = &invoice.Conversion{Currency: "eur", Rate: decimal.RequireFromString("0.9"), Total: types.EUR(69525)}

	out, err := invoice.Render(inv, "Acme")
	require.NoError(t, err)
	assert.Contains(t, out, "Total: $772.50 (€695.25 at 0.9)")
	assert.Contains(t, out, "Nothing to pay.")
	assert.NotContains(t, out, "Due:")
}

func TestRenderCompensating(t *testing.T) {
	inv := sample()
	inv.Kind = invoice.KindCompensating
	inv.CorrectsID = id.NewInvoiceID()
	inv.LineItems = []invoice.LineItem{{Type: invoice.LineItemAdjustment, Description: "query overcount", Amount: types.USD(-2250)}}
	inv.Discounts = nil
	inv.Total = types.USD(-2250)

	out, err := invoice.Render(inv, "Acme")
	require.NoError(t, err)
	assert.Contains(t, out, "Correction "+inv.ID.String()+" to "+inv.CorrectsID.String())
	assert.Contains(t, out, "query overcount: -$22.50")
}

func TestIsUnpaid(t *testing.T) {
	inv := sample()
	assert.True(t, inv.IsUnpaid())
	inv.Status = invoice.StatusOverdue
	assert.True(t, inv.IsUnpaid())
	inv.Status = invoice.StatusPaid
	assert.False(t, inv.IsUnpaid())
}
