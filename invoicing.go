package tally

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/charge"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/tier"
	"github.com/xraph/tally/types"
)

// zeroTotalRef is the payment reference of invoices issued already settled.
const zeroTotalRef = "zero-total"

// Adjustment is one line of a compensating invoice. Negative amounts
// credit the account.
type Adjustment struct {
	Description string      `json:"description"`
	Amount      types.Money `json:"amount"`
}

// ──────────────────────────────────────────────────
// Generation
// ──────────────────────────────────────────────────

// GenerateInvoice closes the account's current cycle and invoices it.
//
// If the close loses a race, or the current cycle was opened by a rollover
// within the minimum cycle age, the cycle that was just closed is invoiced
// instead. A *DuplicateInvoiceError is returned when that cycle already
// has an invoice.
func (e *Engine) GenerateInvoice(ctx context.Context, accountID id.AccountID) (*invoice.Invoice, error) {
	closed, err := e.CloseCycle(ctx, accountID)
	if err != nil {
		var conflict *ConcurrentCloseConflict
		if !errors.As(err, &conflict) || conflict.Cycle == nil {
			return nil, err
		}
		e.logger.Debug("invoicing cycle closed concurrently",
			"account_id", accountID.String(),
			"cycle_id", conflict.Cycle.ID.String(),
		)
		closed = conflict.Cycle
	}
	return e.invoiceCycle(ctx, closed)
}

// InvoiceCycle invoices a closed cycle: usage for that cycle priced with
// its bound tier, plus the flat fee of the cycle that follows it.
func (e *Engine) InvoiceCycle(ctx context.Context, cycleID id.CycleID) (*invoice.Invoice, error) {
	c, err := e.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	return e.invoiceCycle(ctx, c)
}

func (e *Engine) invoiceCycle(ctx context.Context, closed *cycle.Cycle) (*invoice.Invoice, error) {
	inv, usage, err := e.buildInvoice(ctx, closed)
	if err != nil {
		return nil, e.invoiceFailed(ctx, closed, err)
	}

	if err := e.store.CreateInvoice(ctx, inv); err != nil {
		if errors.Is(err, ErrInvoiceExists) {
			existing, gerr := e.store.GetInvoiceByCycle(ctx, closed.AccountID, closed.ID)
			if gerr != nil {
				return nil, gerr
			}
			return nil, &DuplicateInvoiceError{Existing: existing}
		}
		return nil, e.invoiceFailed(ctx, closed, fmt.Errorf("create invoice: %w", err))
	}

	e.logger.Info("invoice generated",
		"invoice_id", inv.ID.String(),
		"account_id", inv.AccountID.String(),
		"cycle_id", inv.CycleID.String(),
		"total", inv.Total.String(),
		"status", string(inv.Status),
	)
	e.plugins.EmitInvoiceGenerated(ctx, inv)

	if inv.Flagged {
		lines := usage.FlaggedLines()
		e.logger.Warn("invoice has charges flagged for review",
			"invoice_id", inv.ID.String(),
			"account_id", inv.AccountID.String(),
			"lines", len(lines),
		)
		e.plugins.EmitChargeFlagged(ctx, inv, lines)
	}

	return inv, nil
}

// invoiceFailed logs and reports a generation failure, then returns err.
// A duplicate is not a failure.
func (e *Engine) invoiceFailed(ctx context.Context, c *cycle.Cycle, err error) error {
	var dup *DuplicateInvoiceError
	if errors.As(err, &dup) {
		return err
	}
	e.logger.Error("invoice generation failed",
		"account_id", c.AccountID.String(),
		"cycle_id", c.ID.String(),
		"error", err,
	)
	e.plugins.EmitInvoiceFailed(ctx, c.AccountID, c.ID, err)
	return err
}

func (e *Engine) buildInvoice(ctx context.Context, closed *cycle.Cycle) (*invoice.Invoice, charge.Result, error) {
	if closed.IsOpen() {
		return nil, charge.Result{}, fmt.Errorf("%w: %s", ErrCycleNotClosed, closed.ID)
	}
	if existing, err := e.store.GetInvoiceByCycle(ctx, closed.AccountID, closed.ID); err == nil {
		return nil, charge.Result{}, &DuplicateInvoiceError{Existing: existing}
	} else if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, charge.Result{}, err
	}

	acct, err := e.store.GetAccount(ctx, closed.AccountID)
	if err != nil {
		return nil, charge.Result{}, err
	}
	usageTier, err := e.store.GetTier(ctx, closed.TierID)
	if err != nil {
		return nil, charge.Result{}, &ConfigurationError{AccountID: acct.ID, Tier: acct.Tier, Err: err}
	}

	// Invoices are billed from the strict count, never from the memo.
	counts, err := e.store.AggregateUsage(ctx, closed.AccountID, closed.Start, closed.End)
	if err != nil {
		return nil, charge.Result{}, fmt.Errorf("aggregate usage: %w", err)
	}
	usage := charge.Calculate(counts, usageTier)

	now := e.now()
	inv := &invoice.Invoice{
		Entity:      types.NewEntity(now),
		ID:          id.NewInvoiceID(),
		AccountID:   acct.ID,
		CycleID:     closed.ID,
		Kind:        invoice.KindStandard,
		Status:      invoice.StatusPending,
		Currency:    usageTier.Currency,
		TierID:      usageTier.ID,
		FlatFee:     types.Zero(usageTier.Currency),
		PeriodStart: closed.Start,
		PeriodEnd:   closed.End,
		DueDate:     startOfDay(now).AddDate(0, 0, e.dueDays),
		IssuedAt:    now,
	}

	// The flat fee covers the cycle that follows; a final cycle of a
	// cancelled account has none.
	if next, def, err := e.followingCycle(ctx, acct, closed); err != nil {
		return nil, charge.Result{}, err
	} else if next != nil {
		if def.Currency != usageTier.Currency {
			return nil, charge.Result{}, &ConfigurationError{
				AccountID: acct.ID,
				Tier:      def.Name,
				Err:       fmt.Errorf("flat fee currency %s differs from usage currency %s", def.Currency, usageTier.Currency),
			}
		}
		inv.FlatFeeCycleID = next.ID
		inv.FlatFee = def.FlatFee
		inv.LineItems = append(inv.LineItems, invoice.LineItem{
			ID:          id.NewLineItemID(),
			Type:        invoice.LineItemFlatFee,
			Description: fmt.Sprintf("%s flat fee (%s)", def.Name, next.Label),
			Quantity:    1,
			UnitAmount:  def.FlatFee,
			Amount:      def.FlatFee,
		})
	}

	for _, l := range usage.Lines {
		if l.Count == 0 && !l.Flagged {
			continue
		}
		inv.LineItems = append(inv.LineItems, invoice.LineItem{
			ID:          id.NewLineItemID(),
			Type:        invoice.LineItemUsage,
			Category:    l.Category,
			Description: strings.ReplaceAll(string(l.Category), "_", " "),
			Quantity:    l.Count,
			Included:    l.Included,
			UnitAmount:  l.UnitPrice,
			Amount:      l.Amount,
			Flagged:     l.Flagged,
		})
	}
	inv.UsageCharges = usage.Total
	inv.Flagged = usage.Flagged

	disc := e.policy.Apply(discount.Input{
		FlatFee:  inv.FlatFee,
		Usage:    usage.Total,
		Founding: acct.Founding,
		Pilot:    acct.Pilot || acct.Status == subscription.StatePilot,
	})
	inv.Discounts = disc.Applied
	inv.Subtotal = disc.Gross
	inv.DiscountTotal = disc.Discount()
	inv.Total = disc.Total

	if inv.ChargeDigest, err = usage.Digest(); err != nil {
		return nil, charge.Result{}, fmt.Errorf("charge digest: %w", err)
	}

	if conv, err := e.convert(ctx, acct, inv.Total); err != nil {
		return nil, charge.Result{}, err
	} else if conv != nil {
		inv.Conversion = conv
	}

	if inv.Total.IsZero() {
		inv.Status = invoice.StatusPaid
		inv.PaidAt = &now
		inv.PaymentRef = zeroTotalRef
	}

	if inv.Summary, err = invoice.Render(inv, acct.Name); err != nil {
		return nil, charge.Result{}, fmt.Errorf("render summary: %w", err)
	}
	return inv, usage, nil
}

// followingCycle finds (or repairs) the cycle after closed and its tier.
// It returns nil for the final cycle of a cancelled account.
func (e *Engine) followingCycle(ctx context.Context, acct *account.Account, closed *cycle.Cycle) (*cycle.Cycle, *tier.Definition, error) {
	next, err := e.store.GetCycleByStart(ctx, acct.ID, closed.End)
	switch {
	case errors.Is(err, ErrCycleNotFound):
		if acct.Status == subscription.StateCancelled {
			return nil, nil, nil
		}
		if next, err = e.openNext(ctx, acct, closed); err != nil {
			return nil, nil, fmt.Errorf("open next cycle: %w", err)
		}
	case err != nil:
		return nil, nil, err
	}

	def, err := e.store.GetTier(ctx, next.TierID)
	if err != nil {
		return nil, nil, &ConfigurationError{AccountID: acct.ID, Tier: acct.Tier, Err: err}
	}
	return next, def, nil
}

func (e *Engine) convert(ctx context.Context, acct *account.Account, total types.Money) (*invoice.Conversion, error) {
	to := strings.ToLower(acct.BillingCurrency(total.Currency))
	if to == total.Currency {
		return nil, nil
	}
	if e.rates == nil {
		return nil, &ConfigurationError{AccountID: acct.ID, Err: fmt.Errorf("no exchange rates configured for %s", to)}
	}
	rate, err := e.rates.Rate(ctx, total.Currency, to)
	if err != nil {
		return nil, &ConfigurationError{AccountID: acct.ID, Err: err}
	}
	return &invoice.Conversion{Currency: to, Rate: rate, Total: total.Convert(rate, to)}, nil
}

// ──────────────────────────────────────────────────
// Corrections and payments
// ──────────────────────────────────────────────────

// IssueCompensatingInvoice issues a correction to a standard invoice. The
// original is never modified. A correction that nets to zero or a credit
// is issued settled.
func (e *Engine) IssueCompensatingInvoice(ctx context.Context, originalID id.InvoiceID, adjustments []Adjustment, reason string) (*invoice.Invoice, error) {
	if len(adjustments) == 0 {
		return nil, ValidationError{Field: "adjustments", Message: "at least one adjustment is required"}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ValidationError{Field: "reason", Message: "is required"}
	}

	orig, err := e.store.GetInvoice(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if orig.Kind != invoice.KindStandard {
		return nil, ValidationError{Field: "original", Message: "only standard invoices can be corrected"}
	}
	acct, err := e.store.GetAccount(ctx, orig.AccountID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	total := types.Zero(orig.Currency)
	inv := &invoice.Invoice{
		Entity:      types.NewEntity(now),
		ID:          id.NewInvoiceID(),
		AccountID:   orig.AccountID,
		CycleID:     orig.CycleID,
		Kind:        invoice.KindCompensating,
		CorrectsID:  orig.ID,
		Reason:      reason,
		Status:      invoice.StatusPending,
		Currency:    orig.Currency,
		TierID:      orig.TierID,
		FlatFee:     types.Zero(orig.Currency),
		PeriodStart: orig.PeriodStart,
		PeriodEnd:   orig.PeriodEnd,
		DueDate:     startOfDay(now).AddDate(0, 0, e.dueDays),
		IssuedAt:    now,
	}
	for i, adj := range adjustments {
		if adj.Amount.Currency != orig.Currency {
			return nil, ValidationError{
				Field:   fmt.Sprintf("adjustments[%d].amount", i),
				Message: fmt.Sprintf("currency %s does not match invoice currency %s", adj.Amount.Currency, orig.Currency),
			}
		}
		total = total.Add(adj.Amount)
		inv.LineItems = append(inv.LineItems, invoice.LineItem{
			ID:          id.NewLineItemID(),
			Type:        invoice.LineItemAdjustment,
			Description: adj.Description,
			Quantity:    1,
			UnitAmount:  adj.Amount,
			Amount:      adj.Amount,
		})
	}
	inv.Subtotal = total
	inv.DiscountTotal = types.Zero(orig.Currency)
	inv.UsageCharges = types.Zero(orig.Currency)
	inv.Total = total

	if conv, err := e.convert(ctx, acct, total); err != nil {
		return nil, err
	} else if conv != nil {
		inv.Conversion = conv
	}
	if !total.IsPositive() {
		inv.Status = invoice.StatusPaid
		inv.PaidAt = &now
		inv.PaymentRef = zeroTotalRef
	}
	if inv.Summary, err = invoice.Render(inv, acct.Name); err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}

	if err := e.store.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("create compensating invoice: %w", err)
	}

	e.logger.Info("compensating invoice issued",
		"invoice_id", inv.ID.String(),
		"corrects", orig.ID.String(),
		"total", inv.Total.String(),
		"reason", reason,
	)
	e.plugins.EmitInvoiceGenerated(ctx, inv)
	return inv, nil
}

// RecordPayment marks an invoice paid. Once an account has no overdue
// invoices left, the payment moves it back to active.
func (e *Engine) RecordPayment(ctx context.Context, invoiceID id.InvoiceID, paymentRef string) (*invoice.Invoice, error) {
	now := e.now()
	if err := e.store.MarkInvoicePaid(ctx, invoiceID, now, paymentRef); err != nil {
		return nil, err
	}
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("invoice paid", "invoice_id", inv.ID.String(), "account_id", inv.AccountID.String(), "ref", paymentRef)
	e.plugins.EmitInvoicePaid(ctx, inv)

	overdue, err := e.store.ListInvoices(ctx, inv.AccountID, invoice.ListOpts{Status: invoice.StatusOverdue, Limit: 1})
	if err != nil {
		return inv, err
	}
	if len(overdue) > 0 {
		return inv, nil
	}

	if _, err := e.transition(ctx, inv.AccountID, subscription.EventPaymentReceived); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return inv, err
	}
	return inv, nil
}

// GetInvoice retrieves an invoice by ID.
func (e *Engine) GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*invoice.Invoice, error) {
	return e.store.GetInvoice(ctx, invoiceID)
}

// ListInvoices lists an account's invoices.
func (e *Engine) ListInvoices(ctx context.Context, accountID id.AccountID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return e.store.ListInvoices(ctx, accountID, opts)
}
