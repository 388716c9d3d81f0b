// Package observability provides a metrics extension for Tally that records
// lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
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

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin             = (*MetricsExtension)(nil)
	_ plugin.OnInit             = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated   = (*MetricsExtension)(nil)
	_ plugin.OnStatusChanged    = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded    = (*MetricsExtension)(nil)
	_ plugin.OnUsageRejected    = (*MetricsExtension)(nil)
	_ plugin.OnStaleAggregation = (*MetricsExtension)(nil)
	_ plugin.OnCycleClosed      = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceGenerated = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceFailed    = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid      = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceOverdue   = (*MetricsExtension)(nil)
	_ plugin.OnChargeFlagged    = (*MetricsExtension)(nil)
	_ plugin.OnReminderSent     = (*MetricsExtension)(nil)
	_ plugin.OnTickCompleted    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Tally plugin to automatically track billing metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Account metrics
	AccountCreated     Counter
	StatusChanged      Counter
	AccountSuspended   Counter
	AccountCancelled   Counter
	AccountReactivated Counter

	// Usage metrics
	UsageRecorded     Counter
	UsageQuantity     Counter
	UsageRejected     Counter
	StaleAggregations Counter

	// Cycle metrics
	CycleClosed    Counter
	CycleTruncated Counter

	// Invoice metrics
	InvoiceGenerated   Counter
	InvoiceCompensated Counter
	InvoicePaid        Counter
	InvoiceOverdue     Counter
	InvoiceFailed      Counter
	InvoiceTotal       Histogram
	ChargeFlagged      Counter

	// Reminder metrics
	ReminderSent   Counter
	ReminderFailed Counter

	// Scheduler metrics
	TickProcessed Counter
	TickFailed    Counter
	TickLatency   Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions or NewPrometheusFactory elsewhere.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Account metrics
		AccountCreated:     factory.Counter("tally.account.created"),
		StatusChanged:      factory.Counter("tally.account.status_changed"),
		AccountSuspended:   factory.Counter("tally.account.suspended"),
		AccountCancelled:   factory.Counter("tally.account.cancelled"),
		AccountReactivated: factory.Counter("tally.account.reactivated"),

		// Usage metrics
		UsageRecorded:     factory.Counter("tally.usage.events.recorded"),
		UsageQuantity:     factory.Counter("tally.usage.quantity"),
		UsageRejected:     factory.Counter("tally.usage.events.rejected"),
		StaleAggregations: factory.Counter("tally.usage.aggregation.stale"),

		// Cycle metrics
		CycleClosed:    factory.Counter("tally.cycle.closed"),
		CycleTruncated: factory.Counter("tally.cycle.truncated"),

		// Invoice metrics
		InvoiceGenerated:   factory.Counter("tally.invoice.generated"),
		InvoiceCompensated: factory.Counter("tally.invoice.compensated"),
		InvoicePaid:        factory.Counter("tally.invoice.paid"),
		InvoiceOverdue:     factory.Counter("tally.invoice.overdue"),
		InvoiceFailed:      factory.Counter("tally.invoice.failed"),
		InvoiceTotal:       factory.Histogram("tally.invoice.total_amount"),
		ChargeFlagged:      factory.Counter("tally.charge.flagged"),

		// Reminder metrics
		ReminderSent:   factory.Counter("tally.reminder.sent"),
		ReminderFailed: factory.Counter("tally.reminder.failed"),

		// Scheduler metrics
		TickProcessed: factory.Counter("tally.scheduler.processed"),
		TickFailed:    factory.Counter("tally.scheduler.failed"),
		TickLatency:   factory.Histogram("tally.scheduler.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ *account.Account) error {
	m.AccountCreated.Inc()
	return nil
}

// OnStatusChanged implements plugin.OnStatusChanged.
func (m *MetricsExtension) OnStatusChanged(_ context.Context, _ *account.Account, from, to subscription.State, _ subscription.Event) error {
	m.StatusChanged.Inc()
	switch to {
	case subscription.StateSuspended:
		m.AccountSuspended.Inc()
	case subscription.StateCancelled:
		m.AccountCancelled.Inc()
	case subscription.StateActive:
		if from == subscription.StateSuspended || from == subscription.StateGracePeriod {
			m.AccountReactivated.Inc()
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, ev *meter.UsageEvent) error {
	m.UsageRecorded.Inc()
	m.UsageQuantity.Add(float64(ev.Quantity))
	return nil
}

// OnUsageRejected implements plugin.OnUsageRejected.
func (m *MetricsExtension) OnUsageRejected(_ context.Context, _ *meter.UsageEvent, _ error) error {
	m.UsageRejected.Inc()
	return nil
}

// OnStaleAggregation implements plugin.OnStaleAggregation.
func (m *MetricsExtension) OnStaleAggregation(_ context.Context, _ id.AccountID, _ id.CycleID, _ error) error {
	m.StaleAggregations.Inc()
	return nil
}

// OnCycleClosed implements plugin.OnCycleClosed.
func (m *MetricsExtension) OnCycleClosed(_ context.Context, closed, _ *cycle.Cycle) error {
	m.CycleClosed.Inc()
	// An early close ends the cycle at the close time.
	if closed.ClosedAt != nil && closed.End.Equal(*closed.ClosedAt) {
		m.CycleTruncated.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoiceGenerated implements plugin.OnInvoiceGenerated.
func (m *MetricsExtension) OnInvoiceGenerated(_ context.Context, inv *invoice.Invoice) error {
	if inv.Kind == invoice.KindCompensating {
		m.InvoiceCompensated.Inc()
		return nil
	}
	m.InvoiceGenerated.Inc()
	m.InvoiceTotal.Observe(float64(inv.Total.Amount))
	return nil
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (m *MetricsExtension) OnInvoiceFailed(_ context.Context, _ id.AccountID, _ id.CycleID, _ error) error {
	m.InvoiceFailed.Inc()
	return nil
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (m *MetricsExtension) OnInvoicePaid(_ context.Context, _ *invoice.Invoice) error {
	m.InvoicePaid.Inc()
	return nil
}

// OnInvoiceOverdue implements plugin.OnInvoiceOverdue.
func (m *MetricsExtension) OnInvoiceOverdue(_ context.Context, _ *invoice.Invoice) error {
	m.InvoiceOverdue.Inc()
	return nil
}

// OnChargeFlagged implements plugin.OnChargeFlagged.
func (m *MetricsExtension) OnChargeFlagged(_ context.Context, _ *invoice.Invoice, lines []charge.Line) error {
	m.ChargeFlagged.Add(float64(len(lines)))
	return nil
}

// ──────────────────────────────────────────────────
// Scheduler hooks
// ──────────────────────────────────────────────────

// OnReminderSent implements plugin.OnReminderSent.
func (m *MetricsExtension) OnReminderSent(_ context.Context, _ *reminder.Record, deliveryErr error) error {
	if deliveryErr != nil {
		m.ReminderFailed.Inc()
		return nil
	}
	m.ReminderSent.Inc()
	return nil
}

// OnTickCompleted implements plugin.OnTickCompleted.
func (m *MetricsExtension) OnTickCompleted(_ context.Context, _ string, processed int, elapsed time.Duration, err error) error {
	m.TickProcessed.Add(float64(processed))
	m.TickLatency.Observe(float64(elapsed.Milliseconds()))
	if err != nil {
		m.TickFailed.Inc()
	}
	return nil
}
