// Package audithook bridges Tally lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/charge"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnAccountCreated   = (*Extension)(nil)
	_ plugin.OnStatusChanged    = (*Extension)(nil)
	_ plugin.OnUsageRejected    = (*Extension)(nil)
	_ plugin.OnStaleAggregation = (*Extension)(nil)
	_ plugin.OnCycleClosed      = (*Extension)(nil)
	_ plugin.OnInvoiceGenerated = (*Extension)(nil)
	_ plugin.OnInvoiceFailed    = (*Extension)(nil)
	_ plugin.OnInvoicePaid      = (*Extension)(nil)
	_ plugin.OnInvoiceOverdue   = (*Extension)(nil)
	_ plugin.OnChargeFlagged    = (*Extension)(nil)
	_ plugin.OnReminderSent     = (*Extension)(nil)
	_ plugin.OnTickCompleted    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Tally lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	allow    map[string]struct{} // nil = all actions
	deny     map[string]struct{}
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, a *account.Account) error {
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategorySubscription, nil,
		"tier", a.Tier,
		"status", string(a.Status),
		"founding", a.Founding,
		"pilot", a.Pilot,
	)
}

// OnStatusChanged implements plugin.OnStatusChanged. Suspensions and
// cancellations are recorded under their own actions.
func (e *Extension) OnStatusChanged(ctx context.Context, a *account.Account, from, to subscription.State, ev subscription.Event) error {
	action, severity := ActionAccountStatusChanged, SeverityInfo
	switch to {
	case subscription.StateSuspended:
		action, severity = ActionAccountSuspended, SeverityWarning
	case subscription.StateCancelled:
		action, severity = ActionAccountCancelled, SeverityWarning
	}
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategorySubscription, nil,
		"from", string(from),
		"to", string(to),
		"event", string(ev),
	)
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRejected implements plugin.OnUsageRejected.
func (e *Extension) OnUsageRejected(ctx context.Context, ev *meter.UsageEvent, reason error) error {
	return e.record(ctx, ActionUsageRejected, SeverityWarning, OutcomeFailure,
		ResourceUsage, ev.AccountID.String(), CategoryUsage, reason,
		"category", string(ev.Category),
		"quantity", ev.Quantity,
		"source", ev.Source,
	)
}

// OnStaleAggregation implements plugin.OnStaleAggregation.
func (e *Extension) OnStaleAggregation(ctx context.Context, accountID id.AccountID, cycleID id.CycleID, cause error) error {
	return e.record(ctx, ActionUsageStale, SeverityWarning, OutcomePartial,
		ResourceUsage, accountID.String(), CategoryOperations, cause,
		"cycle_id", cycleID.String(),
	)
}

// OnCycleClosed implements plugin.OnCycleClosed.
func (e *Extension) OnCycleClosed(ctx context.Context, closed, next *cycle.Cycle) error {
	kv := []any{
		"account_id", closed.AccountID.String(),
		"label", closed.Label,
		"start", closed.Start,
		"end", closed.End,
	}
	if next != nil {
		kv = append(kv, "next_cycle_id", next.ID.String())
	}
	return e.record(ctx, ActionCycleClosed, SeverityInfo, OutcomeSuccess,
		ResourceCycle, closed.ID.String(), CategoryBilling, nil, kv...)
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoiceGenerated implements plugin.OnInvoiceGenerated.
func (e *Extension) OnInvoiceGenerated(ctx context.Context, inv *invoice.Invoice) error {
	action := ActionInvoiceGenerated
	kv := []any{
		"account_id", inv.AccountID.String(),
		"cycle_id", inv.CycleID.String(),
		"total", inv.Total.Amount,
		"currency", inv.Currency,
		"status", string(inv.Status),
		"digest", inv.ChargeDigest,
	}
	if inv.Kind == invoice.KindCompensating {
		action = ActionInvoiceCompensated
		kv = append(kv, "corrects", inv.CorrectsID.String(), "reason", inv.Reason)
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryPayment, nil, kv...)
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (e *Extension) OnInvoiceFailed(ctx context.Context, accountID id.AccountID, cycleID id.CycleID, err error) error {
	return e.record(ctx, ActionInvoiceFailed, SeverityCritical, OutcomeFailure,
		ResourceInvoice, "", CategoryPayment, err,
		"account_id", accountID.String(),
		"cycle_id", cycleID.String(),
	)
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoicePaid, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryPayment, nil,
		"account_id", inv.AccountID.String(),
		"total", inv.Total.Amount,
		"payment_ref", inv.PaymentRef,
	)
}

// OnInvoiceOverdue implements plugin.OnInvoiceOverdue.
func (e *Extension) OnInvoiceOverdue(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoiceOverdue, SeverityWarning, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryPayment, nil,
		"account_id", inv.AccountID.String(),
		"due_date", inv.DueDate,
	)
}

// OnChargeFlagged implements plugin.OnChargeFlagged.
func (e *Extension) OnChargeFlagged(ctx context.Context, inv *invoice.Invoice, lines []charge.Line) error {
	cats := make([]string, 0, len(lines))
	for _, l := range lines {
		cats = append(cats, fmt.Sprintf("%s:%d", l.Category, l.Count))
	}
	return e.record(ctx, ActionChargeFlagged, SeverityWarning, OutcomePartial,
		ResourceInvoice, inv.ID.String(), CategoryBilling, nil,
		"account_id", inv.AccountID.String(),
		"lines", cats,
	)
}

// ──────────────────────────────────────────────────
// Scheduler hooks
// ──────────────────────────────────────────────────

// OnReminderSent implements plugin.OnReminderSent.
func (e *Extension) OnReminderSent(ctx context.Context, r *reminder.Record, deliveryErr error) error {
	action, severity, outcome := ActionReminderSent, SeverityInfo, OutcomeSuccess
	if deliveryErr != nil {
		action, severity, outcome = ActionReminderFailed, SeverityError, OutcomeFailure
	}
	return e.record(ctx, action, severity, outcome,
		ResourceReminder, r.ID.String(), CategoryBilling, deliveryErr,
		"account_id", r.AccountID.String(),
		"invoice_id", r.InvoiceID.String(),
		"type", string(r.Type),
		"offset", r.Offset,
	)
}

// OnTickCompleted implements plugin.OnTickCompleted. Only failed ticks are
// audited.
func (e *Extension) OnTickCompleted(ctx context.Context, job string, processed int, elapsed time.Duration, err error) error {
	if err == nil {
		return nil
	}
	return e.record(ctx, ActionSchedulerFailed, SeverityError, OutcomePartial,
		ResourceScheduler, job, CategoryOperations, err,
		"processed", processed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if !e.audits(action) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
