// Package plugin provides the hook system Tally uses to publish billing
// lifecycle events. Plugins implement any subset of the hook interfaces;
// the registry discovers them by type assertion at registration time.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/charge"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called once the engine is constructed. engine is the
// *tally.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account hooks
// ──────────────────────────────────────────────────

type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, a *account.Account) error
}

// OnStatusChanged is called after a subscription state transition has
// been persisted.
type OnStatusChanged interface {
	Plugin
	OnStatusChanged(ctx context.Context, a *account.Account, from, to subscription.State, ev subscription.Event) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, e *meter.UsageEvent) error
}

// OnUsageRejected is called when an event is refused, typically because
// the account is suspended.
type OnUsageRejected interface {
	Plugin
	OnUsageRejected(ctx context.Context, e *meter.UsageEvent, reason error) error
}

// OnStaleAggregation is called when a usage summary falls back to the last
// known snapshot.
type OnStaleAggregation interface {
	Plugin
	OnStaleAggregation(ctx context.Context, accountID id.AccountID, cycleID id.CycleID, cause error) error
}

// ──────────────────────────────────────────────────
// Cycle hooks
// ──────────────────────────────────────────────────

// OnCycleClosed is called after a cycle closes. next is nil when no cycle
// follows (cancelled account).
type OnCycleClosed interface {
	Plugin
	OnCycleClosed(ctx context.Context, closed, next *cycle.Cycle) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

type OnInvoiceGenerated interface {
	Plugin
	OnInvoiceGenerated(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoiceFailed is called when invoice generation fails. These failures
// are lost revenue and must reach an operator.
type OnInvoiceFailed interface {
	Plugin
	OnInvoiceFailed(ctx context.Context, accountID id.AccountID, cycleID id.CycleID, err error) error
}

type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error
}

type OnInvoiceOverdue interface {
	Plugin
	OnInvoiceOverdue(ctx context.Context, inv *invoice.Invoice) error
}

// OnChargeFlagged is called when an invoice carries usage lines that were
// charged zero pending manual review.
type OnChargeFlagged interface {
	Plugin
	OnChargeFlagged(ctx context.Context, inv *invoice.Invoice, lines []charge.Line) error
}

// ──────────────────────────────────────────────────
// Scheduler hooks
// ──────────────────────────────────────────────────

// OnReminderSent is called after a reminder was recorded and handed off.
// deliveryErr is the notifier's error, if any.
type OnReminderSent interface {
	Plugin
	OnReminderSent(ctx context.Context, r *reminder.Record, deliveryErr error) error
}

// OnTickCompleted is called after each scheduled job run.
type OnTickCompleted interface {
	Plugin
	OnTickCompleted(ctx context.Context, job string, processed int, elapsed time.Duration, err error) error
}
