package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/types"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// Kind separates regular cycle invoices from corrections.
type Kind string

const (
	KindStandard     Kind = "standard"
	KindCompensating Kind = "compensating"
)

// Invoice is immutable once issued; only Status, PaidAt and PaymentRef
// change afterwards. Corrections are issued as separate compensating
// invoices that reference the original through CorrectsID.
//
// Usage is billed in arrears for CycleID (the cycle that just closed)
// while the flat fee covers FlatFeeCycleID (the cycle that just opened).
type Invoice struct {
	types.Entity
	ID             id.InvoiceID       `json:"id"`
	AccountID      id.AccountID       `json:"account_id"`
	CycleID        id.CycleID         `json:"cycle_id"`
	FlatFeeCycleID id.CycleID         `json:"flat_fee_cycle_id,omitempty"`
	Kind           Kind               `json:"kind"`
	CorrectsID     id.InvoiceID       `json:"corrects_id,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Status         Status             `json:"status"`
	Currency       string             `json:"currency"`
	TierID         id.TierID          `json:"tier_id"`
	FlatFee        types.Money        `json:"flat_fee"`
	UsageCharges   types.Money        `json:"usage_charges"`
	LineItems      []LineItem         `json:"line_items"`
	Discounts      []discount.Applied `json:"discounts,omitempty"`
	DiscountTotal  types.Money        `json:"discount_total"`
	Subtotal       types.Money        `json:"subtotal"`
	Total          types.Money        `json:"total"`
	Conversion     *Conversion        `json:"conversion,omitempty"`
	PeriodStart    time.Time          `json:"period_start"`
	PeriodEnd      time.Time          `json:"period_end"`
	DueDate        time.Time          `json:"due_date"`
	IssuedAt       time.Time          `json:"issued_at"`
	PaidAt         *time.Time         `json:"paid_at,omitempty"`
	PaymentRef     string             `json:"payment_ref,omitempty"`
	ChargeDigest   string             `json:"charge_digest,omitempty"`
	Flagged        bool               `json:"flagged,omitempty"`
	Summary        string             `json:"summary"`
}

// Conversion is the invoice total presented in the account's billing
// currency when it differs from the tier currency.
type Conversion struct {
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
	Total    types.Money     `json:"total"`
}

// IsUnpaid reports whether the invoice still expects a payment.
func (inv *Invoice) IsUnpaid() bool {
	return inv.Status == StatusPending || inv.Status == StatusOverdue
}

type LineItem struct {
	ID          id.LineItemID  `json:"id"`
	Type        LineItemType   `json:"type"`
	Category    meter.Category `json:"category,omitempty"`
	Description string         `json:"description"`
	Quantity    int64          `json:"quantity"`
	Included    int64          `json:"included,omitempty"`
	UnitAmount  types.Money    `json:"unit_amount"`
	Amount      types.Money    `json:"amount"`
	Flagged     bool           `json:"flagged,omitempty"`
}

type LineItemType string

const (
	LineItemFlatFee    LineItemType = "flat_fee"
	LineItemUsage      LineItemType = "usage"
	LineItemDiscount   LineItemType = "discount"
	LineItemAdjustment LineItemType = "adjustment"
)
