package mongo

import (
	"time"

	"github.com/shopspring/decimal"
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

	ID              string            `grove:"id,pk"             bson:"_id"`
	Name            string            `grove:"name"              bson:"name"`
	TaxID           string            `grove:"tax_id"            bson:"tax_id,omitempty"`
	Tier            string            `grove:"tier"              bson:"tier"`
	Founding        bool              `grove:"founding"          bson:"founding"`
	Pilot           bool              `grove:"pilot"             bson:"pilot"`
	Status          string            `grove:"status"            bson:"status"`
	Currency        string            `grove:"currency"          bson:"currency,omitempty"`
	StatusChangedAt time.Time         `grove:"status_changed_at" bson:"status_changed_at"`
	Metadata        map[string]string `grove:"metadata"          bson:"metadata,omitempty"`
	CreatedAt       time.Time         `grove:"created_at"        bson:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at"        bson:"updated_at"`
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
		Entity:          types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
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

	ID        string           `grove:"id,pk"      bson:"_id"`
	Name      string           `grove:"name"       bson:"name"`
	Version   int              `grove:"version"    bson:"version"`
	Currency  string           `grove:"currency"   bson:"currency"`
	FlatFee   int64            `grove:"flat_fee"   bson:"flat_fee"`
	Included  map[string]int64 `grove:"included"   bson:"included"`
	UnitPrice map[string]int64 `grove:"unit_price" bson:"unit_price"`
	CreatedAt time.Time        `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time        `grove:"updated_at" bson:"updated_at"`
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
		Entity:    types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
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

	ID         string     `grove:"id,pk"        bson:"_id"`
	AccountID  string     `grove:"account_id"   bson:"account_id"`
	TierID     string     `grove:"tier_id"      bson:"tier_id"`
	PreviousID string     `grove:"previous_id"  bson:"previous_id,omitempty"`
	Label      string     `grove:"label"        bson:"label"`
	Start      time.Time  `grove:"period_start" bson:"period_start"`
	End        time.Time  `grove:"period_end"   bson:"period_end"`
	AnchorDay  int        `grove:"anchor_day"   bson:"anchor_day"`
	Status     string     `grove:"status"       bson:"status"`
	ClosedAt   *time.Time `grove:"closed_at"    bson:"closed_at,omitempty"`
	CreatedAt  time.Time  `grove:"created_at"   bson:"created_at"`
	UpdatedAt  time.Time  `grove:"updated_at"   bson:"updated_at"`
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
		Entity:     types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
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

	ID             string            `grove:"id,pk"           bson:"_id"`
	AccountID      string            `grove:"account_id"      bson:"account_id"`
	Category       string            `grove:"category"        bson:"category"`
	Quantity       int64             `grove:"quantity"        bson:"quantity"`
	Timestamp      time.Time         `grove:"timestamp"       bson:"timestamp"`
	IdempotencyKey string            `grove:"idempotency_key" bson:"idempotency_key,omitempty"`
	Source         string            `grove:"source"          bson:"source,omitempty"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	RecordedAt     time.Time         `grove:"recorded_at"     bson:"recorded_at"`
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

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:tally_invoices"`

	ID             string           `grove:"id,pk"             bson:"_id"`
	AccountID      string           `grove:"account_id"        bson:"account_id"`
	CycleID        string           `grove:"cycle_id"          bson:"cycle_id"`
	FlatFeeCycleID string           `grove:"flat_fee_cycle_id" bson:"flat_fee_cycle_id,omitempty"`
	Kind           string           `grove:"kind"              bson:"kind"`
	CorrectsID     string           `grove:"corrects_id"       bson:"corrects_id,omitempty"`
	Reason         string           `grove:"reason"            bson:"reason,omitempty"`
	Status         string           `grove:"status"            bson:"status"`
	Currency       string           `grove:"currency"          bson:"currency"`
	TierID         string           `grove:"tier_id"           bson:"tier_id,omitempty"`
	FlatFee        int64            `grove:"flat_fee"          bson:"flat_fee"`
	UsageCharges   int64            `grove:"usage_charges"     bson:"usage_charges"`
	DiscountTotal  int64            `grove:"discount_total"    bson:"discount_total"`
	Subtotal       int64            `grove:"subtotal"          bson:"subtotal"`
	Total          int64            `grove:"total"             bson:"total"`
	LineItems      []lineItemModel  `grove:"line_items"        bson:"line_items"`
	Discounts      []discountModel  `grove:"discounts"         bson:"discounts,omitempty"`
	Conversion     *conversionModel `grove:"conversion"        bson:"conversion,omitempty"`
	PeriodStart    time.Time        `grove:"period_start"      bson:"period_start"`
	PeriodEnd      time.Time        `grove:"period_end"        bson:"period_end"`
	DueDate        time.Time        `grove:"due_date"          bson:"due_date"`
	IssuedAt       time.Time        `grove:"issued_at"         bson:"issued_at"`
	PaidAt         *time.Time       `grove:"paid_at"           bson:"paid_at,omitempty"`
	PaymentRef     string           `grove:"payment_ref"       bson:"payment_ref,omitempty"`
	ChargeDigest   string           `grove:"charge_digest"     bson:"charge_digest,omitempty"`
	Flagged        bool             `grove:"flagged"           bson:"flagged"`
	Summary        string           `grove:"summary"           bson:"summary"`
	CreatedAt      time.Time        `grove:"created_at"        bson:"created_at"`
	UpdatedAt      time.Time        `grove:"updated_at"        bson:"updated_at"`
}

type lineItemModel struct {
	ID          string `bson:"id"`
	Type        string `bson:"type"`
	Category    string `bson:"category,omitempty"`
	Description string `bson:"description"`
	Quantity    int64  `bson:"quantity"`
	Included    int64  `bson:"included,omitempty"`
	UnitAmount  int64  `bson:"unit_amount"`
	Amount      int64  `bson:"amount"`
	Flagged     bool   `bson:"flagged,omitempty"`
}

type discountModel struct {
	Kind    string `bson:"kind"`
	Percent string `bson:"percent"`
	Amount  int64  `bson:"amount"`
}

type conversionModel struct {
	Currency string `bson:"currency"`
	Rate     string `bson:"rate"`
	Total    int64  `bson:"total"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	items := make([]lineItemModel, len(inv.LineItems))
	for i, li := range inv.LineItems {
		items[i] = lineItemModel{
			ID:          li.ID.String(),
			Type:        string(li.Type),
			Category:    string(li.Category),
			Description: li.Description,
			Quantity:    li.Quantity,
			Included:    li.Included,
			UnitAmount:  li.UnitAmount.Amount,
			Amount:      li.Amount.Amount,
			Flagged:     li.Flagged,
		}
	}
	discounts := make([]discountModel, len(inv.Discounts))
	for i, d := range inv.Discounts {
		discounts[i] = discountModel{
			Kind:    string(d.Kind),
			Percent: d.Percent.String(),
			Amount:  d.Amount.Amount,
		}
	}
	var conv *conversionModel
	if inv.Conversion != nil {
		conv = &conversionModel{
			Currency: inv.Conversion.Currency,
			Rate:     inv.Conversion.Rate.String(),
			Total:    inv.Conversion.Total.Amount,
		}
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
		LineItems:      items,
		Discounts:      discounts,
		Conversion:     conv,
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
	}
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

	money := func(amount int64) types.Money { return types.New(amount, m.Currency) }

	items := make([]invoice.LineItem, len(m.LineItems))
	for i, li := range m.LineItems {
		liID, err := id.ParseLineItemID(li.ID)
		if err != nil {
			return nil, err
		}
		items[i] = invoice.LineItem{
			ID:          liID,
			Type:        invoice.LineItemType(li.Type),
			Category:    meter.Category(li.Category),
			Description: li.Description,
			Quantity:    li.Quantity,
			Included:    li.Included,
			UnitAmount:  money(li.UnitAmount),
			Amount:      money(li.Amount),
			Flagged:     li.Flagged,
		}
	}

	var discounts []discount.Applied
	for _, d := range m.Discounts {
		pct, err := decimal.NewFromString(d.Percent)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, discount.Applied{
			Kind:    discount.Kind(d.Kind),
			Percent: pct,
			Amount:  money(d.Amount),
		})
	}

	var conv *invoice.Conversion
	if m.Conversion != nil {
		rate, err := decimal.NewFromString(m.Conversion.Rate)
		if err != nil {
			return nil, err
		}
		conv = &invoice.Conversion{
			Currency: m.Conversion.Currency,
			Rate:     rate,
			Total:    types.New(m.Conversion.Total, m.Conversion.Currency),
		}
	}

	return &invoice.Invoice{
		Entity:         types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
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
		FlatFee:        money(m.FlatFee),
		UsageCharges:   money(m.UsageCharges),
		DiscountTotal:  money(m.DiscountTotal),
		Subtotal:       money(m.Subtotal),
		Total:          money(m.Total),
		LineItems:      items,
		Discounts:      discounts,
		Conversion:     conv,
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

	ID            string     `grove:"id,pk"          bson:"_id"`
	AccountID     string     `grove:"account_id"     bson:"account_id"`
	CycleID       string     `grove:"cycle_id"       bson:"cycle_id"`
	InvoiceID     string     `grove:"invoice_id"     bson:"invoice_id"`
	Type          string     `grove:"type"           bson:"type"`
	Offset        int        `grove:"day_offset"     bson:"day_offset"`
	DueDate       time.Time  `grove:"due_date"       bson:"due_date"`
	RecordedAt    time.Time  `grove:"recorded_at"    bson:"recorded_at"`
	DeliveredAt   *time.Time `grove:"delivered_at"   bson:"delivered_at,omitempty"`
	DeliveryError string     `grove:"delivery_error" bson:"delivery_error,omitempty"`
	CreatedAt     time.Time  `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"     bson:"updated_at"`
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
		Entity:        types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
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
