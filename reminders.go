package tally

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// RunReminders is one reminder tick. For every unpaid standard invoice it
// applies the overdue and suspension rules, then issues every reminder
// whose offset has been crossed and not yet recorded. Suspended accounts
// past the cancellation period are cancelled. It returns the number of
// reminders issued.
//
// A reminder record is written before its notification is handed off, so
// a crash or an overlapping tick can never issue the same reminder twice.
// Failures are collected and retried on the next tick.
func (e *Engine) RunReminders(ctx context.Context) (int, error) {
	now := e.now()

	invs, err := e.store.ListUnpaidInvoices(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list unpaid invoices: %w", err)
	}

	var (
		errs  MultiError
		sent  int
		accts = make(map[id.AccountID]*account.Account)
	)

	for _, inv := range invs {
		if ctx.Err() != nil {
			errs.Add(ctx.Err())
			break
		}
		if inv.Kind != invoice.KindStandard {
			continue
		}

		// A payment may have landed since the list was read.
		cur, err := e.store.GetInvoice(ctx, inv.ID)
		if err != nil {
			errs.Add(fmt.Errorf("invoice %s: %w", inv.ID, err))
			continue
		}
		if !cur.IsUnpaid() {
			continue
		}
		inv = cur

		acct, ok := accts[inv.AccountID]
		if !ok {
			if acct, err = e.store.GetAccount(ctx, inv.AccountID); err != nil {
				errs.Add(fmt.Errorf("invoice %s: %w", inv.ID, err))
				continue
			}
			accts[inv.AccountID] = acct
		}

		days := reminder.DaysUntil(inv.DueDate, now)

		if err := e.enforceDue(ctx, inv, days); err != nil {
			if errors.Is(err, errInvoiceSettled) {
				continue
			}
			errs.Add(fmt.Errorf("invoice %s: %w", inv.ID, err))
		}

		for _, off := range e.schedule.Crossed(days) {
			issued, err := e.issueReminder(ctx, acct, inv, off, days, now)
			if err != nil {
				errs.Add(fmt.Errorf("invoice %s %s reminder: %w", inv.ID, off.Type, err))
				continue
			}
			if issued {
				sent++
			}
		}
	}

	if err := e.cancelLapsed(ctx, now); err != nil {
		errs.Add(err)
	}

	return sent, errs.Err()
}

// errInvoiceSettled stops a tick's work on an invoice paid while the tick
// was running.
var errInvoiceSettled = errors.New("tally: invoice settled during tick")

// enforceDue marks an invoice overdue once its due date has passed and
// moves the account through grace into suspension. Both steps derive from
// the invoice's age alone, so a missed tick is repaired by the next one.
func (e *Engine) enforceDue(ctx context.Context, inv *invoice.Invoice, days int) error {
	if days >= 0 {
		return nil
	}

	if inv.Status == invoice.StatusPending {
		switch err := e.store.MarkInvoiceOverdue(ctx, inv.ID); {
		case err == nil:
			inv.Status = invoice.StatusOverdue
			e.logger.Info("invoice overdue", "invoice_id", inv.ID.String(), "account_id", inv.AccountID.String())
			e.plugins.EmitInvoiceOverdue(ctx, inv)
		case errors.Is(err, ErrConflict):
			fresh, gerr := e.store.GetInvoice(ctx, inv.ID)
			if gerr != nil {
				return gerr
			}
			if !fresh.IsUnpaid() {
				return errInvoiceSettled
			}
			inv.Status = fresh.Status
		default:
			return fmt.Errorf("mark overdue: %w", err)
		}
	}

	acct, err := e.store.GetAccount(ctx, inv.AccountID)
	if err != nil {
		return err
	}

	switch acct.Status {
	case subscription.StateTrial, subscription.StateActive:
		_, err = e.transition(ctx, acct.ID, subscription.EventPaymentOverdue)
		if err != nil {
			return err
		}
		if -days < e.suspendAfter() {
			return nil
		}
		fallthrough
	case subscription.StateGracePeriod:
		if -days >= e.suspendAfter() {
			_, err = e.transition(ctx, acct.ID, subscription.EventGraceExpired)
		}
	}
	return err
}

// suspendAfter is the number of days past due at which an account in
// grace is suspended: the offset of the suspension warning, else seven.
func (e *Engine) suspendAfter() int {
	for _, o := range e.schedule {
		if o.Type == reminder.TypeSuspensionWarning {
			return o.Days
		}
	}
	return 7
}

// issueReminder records and delivers one reminder. It reports false when
// the reminder had already been recorded.
func (e *Engine) issueReminder(ctx context.Context, acct *account.Account, inv *invoice.Invoice, off reminder.Offset, days int, now time.Time) (bool, error) {
	rec := &reminder.Record{
		Entity:     types.NewEntity(now),
		ID:         id.NewReminderID(),
		AccountID:  inv.AccountID,
		CycleID:    inv.CycleID,
		InvoiceID:  inv.ID,
		Type:       off.Type,
		Offset:     off.Days,
		DueDate:    inv.DueDate,
		RecordedAt: now,
	}
	if err := e.store.CreateReminder(ctx, rec); err != nil {
		if errors.Is(err, ErrReminderExists) {
			return false, nil
		}
		return false, err
	}

	amount := inv.Total
	if inv.Conversion != nil {
		amount = inv.Conversion.Total
	}
	n := &reminder.Notification{
		ReminderID:   rec.ID,
		AccountID:    acct.ID,
		AccountName:  acct.Name,
		InvoiceID:    inv.ID,
		CycleID:      inv.CycleID,
		Type:         off.Type,
		DueDate:      inv.DueDate,
		DaysUntilDue: days,
		Amount:       amount,
		Message:      reminder.Message(off.Type, acct.Name, amount, inv.DueDate, days),
	}

	deliveryErr := e.notifier.Notify(ctx, n)
	var errText string
	if deliveryErr != nil {
		errText = deliveryErr.Error()
		e.logger.Warn("reminder delivery failed",
			"reminder_id", rec.ID.String(),
			"account_id", acct.ID.String(),
			"type", string(off.Type),
			"error", deliveryErr,
		)
	}

	deliveredAt := e.now()
	if err := e.store.MarkReminderDelivered(ctx, rec.ID, deliveredAt, errText); err != nil {
		e.logger.Warn("reminder delivery not recorded", "reminder_id", rec.ID.String(), "error", err)
	}
	if deliveryErr == nil {
		rec.DeliveredAt = &deliveredAt
	}
	rec.DeliveryError = errText

	e.plugins.EmitReminderSent(ctx, rec, deliveryErr)
	return true, nil
}

// cancelLapsed cancels accounts suspended for longer than the
// cancellation period, issuing their final invoices.
func (e *Engine) cancelLapsed(ctx context.Context, now time.Time) error {
	if e.cancelAfter <= 0 {
		return nil
	}

	suspended, err := e.store.ListAccounts(ctx, account.ListOpts{Status: subscription.StateSuspended})
	if err != nil {
		return fmt.Errorf("list suspended accounts: %w", err)
	}

	var errs MultiError
	for _, acct := range suspended {
		if now.Sub(acct.StatusChangedAt) < e.cancelAfter {
			continue
		}
		if _, _, err := e.cancel(ctx, acct.ID, subscription.EventProlongedNonPayment); err != nil {
			errs.Add(fmt.Errorf("cancel %s: %w", acct.ID, err))
		}
	}
	return errs.Err()
}

// ReminderTimeline returns the date each configured reminder fires for an
// invoice due on due.
func (e *Engine) ReminderTimeline(due time.Time) map[reminder.Type]time.Time {
	return e.schedule.Dates(due)
}

// ListReminders lists recorded reminders.
func (e *Engine) ListReminders(ctx context.Context, opts reminder.ListOpts) ([]*reminder.Record, error) {
	return e.store.ListReminders(ctx, opts)
}
