package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/tier"
	"github.com/xraph/tally/types"
)

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:tally_accounts"`

	ID              string            `grove:"id,pk"`
	Name            string            `grove:"name"`
	TaxID           string            `grove:"tax_id"`
	Tier            string            `grove:"tier"`
	Founding        bool              `grove:"founding"`
	Pilot           bool              `grove:"pilot"`
	Status          string            `grove:"status"`
	Currency        string            `grove:"currency"`
	StatusChangedAt time.Time         `grove:"status_changed_at"`
	Metadata        map[string]string `grove:"metadata,type:json"`
	CreatedAt       time.Time         `grove:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:              a.ID.String(),
		Name:            a.Name,
		TaxID:           a.TaxID,
		Tier:            a.Tier,
		Founding:        a.Founding,
		Pilot:           a.Pilot,
		Status:          string(a.Status),
		Currency:        a.Currency,
		StatusChangedAt: a.StatusChangedAt,
		Metadata:        a.Metadata,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	acctID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:              acctID,
		Name:            m.Name,
		TaxID:           m.TaxID,
		Tier:            m.Tier,
		Founding:        m.Founding,
		Pilot:           m.Pilot,
		Status:          subscription.State(m.Status),
		Currency:        m.Currency,
		StatusChangedAt: m.StatusChangedAt.UTC(),
		Metadata:        m.Metadata,
	}, nil
}

// ==================== Tier models ====================

type tierModel struct {
	grove.BaseModel `grove:"table:tally_tiers"`

	ID        string           `grove:"id,pk"`
	Name      string           `grove:"name"`
	Version   int              `grove:"version"`
	Currency  string           `grove:"currency"`
	FlatFee   int64            `grove:"flat_fee"`
	Included  map[string]int64 `grove:"included,type:json"`
	UnitPrice map[string]int64 `grove:"unit_price,type:json"`
	CreatedAt time.Time        `grove:"created_at"`
	UpdatedAt time.Time        `grove:"updated_at"`
}

func toTierModel(d *tier.Definition) *tierModel {
	included := make(map[string]int64, len(d.Included))
	for c, n := range d.Included {
		included[string(c)] = n
	}
	prices := make(map[string]int64, len(d.UnitPrice))
	for c, p := range d.UnitPrice {
		prices[string(c)] = p.Amount
	}
	return &tierModel{
		ID:        d.ID.String(),
		Name:      d.Name,
		Version:   d.Version,
		Currency:  d.Currency,
		FlatFee:   d.FlatFee.Amount,
		Included:  included,
		UnitPrice: prices,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func fromTierModel(m *tierModel) (*tier.Definition, error) {
	tierID, err := id.ParseTierID(m.ID)
	if err != nil {
		return nil, err
	}
	included := make(map[meter.Category]int64, len(m.Included))
	for c, n := range m.Included {
		included[meter.Category(c)] = n
	}
	prices := make(map[meter.Category]types.Money, len(m.UnitPrice))
	for c, amt := range m.UnitPrice {
		prices[meter.Category(c)] = types.New(amt, m.Currency)
	}
	return &tier.Definition{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:        tierID,
		Name:      m.Name,
		Version:   m.Version,
		Currency:  m.Currency,
		FlatFee:   types.New(m.FlatFee, m.Currency),
		Included:  included,
		UnitPrice: prices,
	}, nil
}

// ==================== Cycle models ====================

type cycleModel struct {
	grove.BaseModel `grove:"table:tally_cycles"`

	ID         string     `grove:"id,pk"`
	AccountID  string     `grove:"account_id"`
	TierID     string     `grove:"tier_id"`
	PreviousID string     `grove:"previous_id"`
	Label      string     `grove:"label"`
	Start      time.Time  `grove:"period_start"`
	End        time.Time  `grove:"period_end"`
	AnchorDay  int        `grove:"anchor_day"`
	Status     string     `grove:"status"`
	ClosedAt   *time.Time `grove:"closed_at"`
	CreatedAt  time.Time  `grove:"created_at"`
	UpdatedAt  time.Time  `grove:"updated_at"`
}

func toCycleModel(c *cycle.Cycle) *cycleModel {
	return &cycleModel{
		ID:         c.ID.String(),
		AccountID:  c.AccountID.String(),
		TierID:     c.TierID.String(),
		PreviousID: c.PreviousID.String(),
		Label:      c.Label,
		Start:      c.Start,
		End:        c.End,
		AnchorDay:  c.AnchorDay,
		Status:     string(c.Status),
		ClosedAt:   c.ClosedAt,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func fromCycleModel(m *cycleModel) (*cycle.Cycle, error) {
	cycID, err := id.ParseCycleID(m.ID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	tierID, err := id.ParseTierID(m.TierID)
	if err != nil {
		return nil, err
	}
	prevID, err := id.ParseOptional(m.PreviousID, id.PrefixCycle)
	if err != nil {
		return nil, err
	}
	return &cycle.Cycle{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:         cycID,
		AccountID:  acctID,
		TierID:     tierID,
		PreviousID: prevID,
		Label:      m.Label,
		Start:      m.Start.UTC(),
		End:        m.End.UTC(),
		AnchorDay:  m.AnchorDay,
		Status:     cycle.Status(m.Status),
		ClosedAt:   utcPtr(m.ClosedAt),
	}, nil
}

// ==================== Usage Event models ====================

type usageEventModel struct {
	grove.BaseModel `grove:"table:tally_usage_events"`

	ID             string            `grove:"id,pk"`
	AccountID      string            `grove:"account_id"`
	Category       string            `grove:"category"`
	Quantity       int64             `grove:"quantity"`
	Timestamp      time.Time         `grove:"timestamp"`
	IdempotencyKey string            `grove:"idempotency_key"`
	Source         string            `grove:"source"`
	Metadata       map[string]string `grove:"metadata,type:json"`
	RecordedAt     time.Time         `grove:"recorded_at"`
}

func toUsageEventModel(e *meter.UsageEvent) *usageEventModel {
	return &usageEventModel{
		ID:             e.ID.String(),
		AccountID:      e.AccountID.String(),
		Category:       string(e.Category),
		Quantity:       e.Quantity,
		Timestamp:      e.Timestamp,
		IdempotencyKey: e.IdempotencyKey,
		Source:         e.Source,
		Metadata:       e.Metadata,
		RecordedAt:     e.RecordedAt,
	}
}

func fromUsageEventModel(m *usageEventModel) (*meter.UsageEvent, error) {
	evtID, err := id.ParseUsageEventID(m.ID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &meter.UsageEvent{
		ID:             evtID,
		AccountID:      acctID,
		Category:       meter.Category(m.Category),
		Quantity:       m.Quantity,
		Timestamp:      m.Timestamp.UTC(),
		IdempotencyKey: m.IdempotencyKey,
		Source:         m.Source,
		Metadata:       m.Metadata,
		RecordedAt:     m.RecordedAt.UTC(),
	}, nil
}

// categoryTotal is one row of a per-category usage aggregate.
type categoryTotal struct {
	Category string `grove:"category"`
	Total    int64  `grove:"total"`
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:tally_invoices"`

	ID             string          `grove:"id,pk"`
	AccountID      string          `grove:"account_id"`
	CycleID        string          `grove:"cycle_id"`
	FlatFeeCycleID string          `grove:"flat_fee_cycle_id"`
	Kind           string          `grove:"kind"`
	CorrectsID     string          `grove:"corrects_id"`
	Reason         string          `grove:"reason"`
	Status         string          `grove:"status"`
	Currency       string          `grove:"currency"`
	TierID         string          `grove:"tier_id"`
	FlatFee        int64           `grove:"flat_fee"`
	UsageCharges   int64           `grove:"usage_charges"`
	DiscountTotal  int64           `grove:"discount_total"`
	Subtotal       int64           `grove:"subtotal"`
	Total          int64           `grove:"total"`
	LineItems      json.RawMessage `grove:"line_items,type:json"`
	Discounts      json.RawMessage `grove:"discounts,type:json"`
	Conversion     json.RawMessage `grove:"conversion,type:json"`
	PeriodStart    time.Time       `grove:"period_start"`
	PeriodEnd      time.Time       `grove:"period_end"`
	DueDate        time.Time       `grove:"due_date"`
	IssuedAt       time.Time       `grove:"issued_at"`
	PaidAt         *time.Time      `grove:"paid_at"`
	PaymentRef     string          `grove:"payment_ref"`
	ChargeDigest   string          `grove:"charge_digest"`
	Flagged        bool            `grove:"flagged"`
	Summary        string          `grove:"summary"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
}

func toInvoiceModel(inv *invoice.Invoice) (*invoiceModel, error) {
	lineItems, err := json.Marshal(inv.LineItems)
	if err != nil {
		return nil, err
	}
	discounts, err := json.Marshal(inv.Discounts)
	if err != nil {
		return nil, err
	}
	conversion, err := json.Marshal(inv.Conversion)
	if err != nil {
		return nil, err
	}

	return &invoiceModel{
		ID:             inv.ID.String(),
		AccountID:      inv.AccountID.String(),
		CycleID:        inv.CycleID.String(),
		FlatFeeCycleID: inv.FlatFeeCycleID.String(),
		Kind:           string(inv.Kind),
		CorrectsID:     inv.CorrectsID.String(),
		Reason:         inv.Reason,
		Status:         string(inv.Status),
		Currency:       inv.Currency,
		TierID:         inv.TierID.String(),
		FlatFee:        inv.FlatFee.Amount,
		UsageCharges:   inv.UsageCharges.Amount,
		DiscountTotal:  inv.DiscountTotal.Amount,
		Subtotal:       inv.Subtotal.Amount,
		Total:          inv.Total.Amount,
		LineItems:      lineItems,
		Discounts:      discounts,
		Conversion:     conversion,
		PeriodStart:    inv.PeriodStart,
		PeriodEnd:      inv.PeriodEnd,
		DueDate:        inv.DueDate,
		IssuedAt:       inv.IssuedAt,
		PaidAt:         inv.PaidAt,
		PaymentRef:     inv.PaymentRef,
		ChargeDigest:   inv.ChargeDigest,
		Flagged:        inv.Flagged,
		Summary:        inv.Summary,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}, nil
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	cycID, err := id.ParseCycleID(m.CycleID)
	if err != nil {
		return nil, err
	}
	feeCycID, err := id.ParseOptional(m.FlatFeeCycleID, id.PrefixCycle)
	if err != nil {
		return nil, err
	}
	correctsID, err := id.ParseOptional(m.CorrectsID, id.PrefixInvoice)
	if err != nil {
		return nil, err
	}
	tierID, err := id.ParseOptional(m.TierID, id.PrefixTier)
	if err != nil {
		return nil, err
	}

	var lineItems []invoice.LineItem
	if len(m.LineItems) > 0 {
		if err := json.Unmarshal(m.LineItems, &lineItems); err != nil {
			return nil, err
		}
	}
	var discounts []discount.Applied
	if len(m.Discounts) > 0 && string(m.Discounts) != "null" {
		if err := json.Unmarshal(m.Discounts, &discounts); err != nil {
			return nil, err
		}
	}
	var conversion *invoice.Conversion
	if len(m.Conversion) > 0 && string(m.Conversion) != "null" {
		conversion = new(invoice.Conversion)
		if err := json.Unmarshal(m.Conversion, conversion); err != nil {
			return nil, err
		}
	}

	return &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             invID,
		AccountID:      acctID,
		CycleID:        cycID,
		FlatFeeCycleID: feeCycID,
		Kind:           invoice.Kind(m.Kind),
		CorrectsID:     correctsID,
		Reason:         m.Reason,
		Status:         invoice.Status(m.Status),
		Currency:       m.Currency,
		TierID:         tierID,
		FlatFee:        types.New(m.FlatFee, m.Currency),
		UsageCharges:   types.New(m.UsageCharges, m.Currency),
		DiscountTotal:  types.New(m.DiscountTotal, m.Currency),
		Subtotal:       types.New(m.Subtotal, m.Currency),
		Total:          types.New(m.Total, m.Currency),
		LineItems:      lineItems,
		Discounts:      discounts,
		Conversion:     conversion,
		PeriodStart:    m.PeriodStart.UTC(),
		PeriodEnd:      m.PeriodEnd.UTC(),
		DueDate:        m.DueDate.UTC(),
		IssuedAt:       m.IssuedAt.UTC(),
		PaidAt:         utcPtr(m.PaidAt),
		PaymentRef:     m.PaymentRef,
		ChargeDigest:   m.ChargeDigest,
		Flagged:        m.Flagged,
		Summary:        m.Summary,
	}, nil
}

// ==================== Reminder models ====================

type reminderModel struct {
	grove.BaseModel `grove:"table:tally_reminders"`

	ID            string     `grove:"id,pk"`
	AccountID     string     `grove:"account_id"`
	CycleID       string     `grove:"cycle_id"`
	InvoiceID     string     `grove:"invoice_id"`
	Type          string     `grove:"type"`
	Offset        int        `grove:"day_offset"`
	DueDate       time.Time  `grove:"due_date"`
	RecordedAt    time.Time  `grove:"recorded_at"`
	DeliveredAt   *time.Time `grove:"delivered_at"`
	DeliveryError string     `grove:"delivery_error"`
	CreatedAt     time.Time  `grove:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"`
}

func toReminderModel(r *reminder.Record) *reminderModel {
	return &reminderModel{
		ID:            r.ID.String(),
		AccountID:     r.AccountID.String(),
		CycleID:       r.CycleID.String(),
		InvoiceID:     r.InvoiceID.String(),
		Type:          string(r.Type),
		Offset:        r.Offset,
		DueDate:       r.DueDate,
		RecordedAt:    r.RecordedAt,
		DeliveredAt:   r.DeliveredAt,
		DeliveryError: r.DeliveryError,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromReminderModel(m *reminderModel) (*reminder.Record, error) {
	remID, err := id.ParseReminderID(m.ID)
	if err != nil {
		return nil, err
	}
	acctID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	cycID, err := id.ParseCycleID(m.CycleID)
	if err != nil {
		return nil, err
	}
	invID, err := id.ParseInvoiceID(m.InvoiceID)
	if err != nil {
		return nil, err
	}
	return &reminder.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:            remID,
		AccountID:     acctID,
		CycleID:       cycID,
		InvoiceID:     invID,
		Type:          reminder.Type(m.Type),
		Offset:        m.Offset,
		DueDate:       m.DueDate.UTC(),
		RecordedAt:    m.RecordedAt.UTC(),
		DeliveredAt:   utcPtr(m.DeliveredAt),
		DeliveryError: m.DeliveryError,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
