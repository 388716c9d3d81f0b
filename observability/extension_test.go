package observability_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/charge"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/observability"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

func newExtension(t *testing.T) (*observability.MetricsExtension, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return observability.NewMetricsExtension(observability.NewPrometheusFactory(reg)), reg
}

func value(t *testing.T, c observability.Counter) float64 {
	t.Helper()
	pc, ok := c.(prometheus.Counter)
	require.True(t, ok, "counter is not a prometheus counter")
	return testutil.ToFloat64(pc)
}

func TestMetricsCountLifecycle(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()
	acct := &account.Account{}

	require.NoError(t, m.OnAccountCreated(ctx, acct))
	require.NoError(t, m.OnStatusChanged(ctx, acct, subscription.StateActive, subscription.StateGracePeriod, subscription.EventPaymentOverdue))
	require.NoError(t, m.OnStatusChanged(ctx, acct, subscription.StateGracePeriod, subscription.StateSuspended, subscription.EventGraceExpired))
	require.NoError(t, m.OnStatusChanged(ctx, acct, subscription.StateSuspended, subscription.StateActive, subscription.EventPaymentReceived))

	assert.Equal(t, 1.0, value(t, m.AccountCreated))
	assert.Equal(t, 3.0, value(t, m.StatusChanged))
	assert.Equal(t, 1.0, value(t, m.AccountSuspended))
	assert.Equal(t, 1.0, value(t, m.AccountReactivated))
	assert.Equal(t, 0.0, value(t, m.AccountCancelled))
}

func TestMetricsUsage(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()

	require.NoError(t, m.OnUsageRecorded(ctx, &meter.UsageEvent{Category: meter.CategoryQuery, Quantity: 5}))
	require.NoError(t, m.OnUsageRecorded(ctx, &meter.UsageEvent{Category: meter.CategoryQuery, Quantity: 2}))
	require.NoError(t, m.OnUsageRejected(ctx, &meter.UsageEvent{}, errors.New("inactive")))

	assert.Equal(t, 2.0, value(t, m.UsageRecorded))
	assert.Equal(t, 7.0, value(t, m.UsageQuantity))
	assert.Equal(t, 1.0, value(t, m.UsageRejected))
}

func TestMetricsInvoices(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()

	require.NoError(t, m.OnInvoiceGenerated(ctx, &invoice.Invoice{Kind: invoice.KindStandard, Total: types.USD(102250)}))
	require.NoError(t, m.OnInvoiceGenerated(ctx, &invoice.Invoice{Kind: invoice.KindCompensating, Total: types.USD(-500)}))
	require.NoError(t, m.OnChargeFlagged(ctx, &invoice.Invoice{}, []charge.Line{{}, {}}))
	require.NoError(t, m.OnInvoicePaid(ctx, &invoice.Invoice{}))

	assert.Equal(t, 1.0, value(t, m.InvoiceGenerated))
	assert.Equal(t, 1.0, value(t, m.InvoiceCompensated))
	assert.Equal(t, 2.0, value(t, m.ChargeFlagged))
	assert.Equal(t, 1.0, value(t, m.InvoicePaid))
}

func TestMetricsCycleTruncation(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()
	at := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

	early := &cycle.Cycle{End: at, ClosedAt: &at}
	later := at.Add(time.Hour)
	onTime := &cycle.Cycle{End: at, ClosedAt: &later}

	require.NoError(t, m.OnCycleClosed(ctx, early, nil))
	require.NoError(t, m.OnCycleClosed(ctx, onTime, nil))

	assert.Equal(t, 2.0, value(t, m.CycleClosed))
	assert.Equal(t, 1.0, value(t, m.CycleTruncated))
}

func TestMetricsSchedulerAndReminders(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()

	require.NoError(t, m.OnReminderSent(ctx, &reminder.Record{}, nil))
	require.NoError(t, m.OnReminderSent(ctx, &reminder.Record{}, errors.New("bounced")))
	require.NoError(t, m.OnTickCompleted(ctx, "reminders", 4, 12*time.Millisecond, nil))
	require.NoError(t, m.OnTickCompleted(ctx, "rollover", 1, 3*time.Millisecond, errors.New("store down")))

	assert.Equal(t, 1.0, value(t, m.ReminderSent))
	assert.Equal(t, 1.0, value(t, m.ReminderFailed))
	assert.Equal(t, 5.0, value(t, m.TickProcessed))
	assert.Equal(t, 1.0, value(t, m.TickFailed))
}

func TestPrometheusFactoryNamesAndReuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	a := f.Counter("tally.invoice.paid")
	b := f.Counter("tally.invoice.paid")
	a.Inc()
	b.Inc()

	expected := `
# HELP tally_invoice_paid_total Count of tally.invoice.paid.
# TYPE tally_invoice_paid_total counter
tally_invoice_paid_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tally_invoice_paid_total"))

	// A second factory on the same registry shares the collectors.
	f2 := observability.NewPrometheusFactory(reg)
	f2.Counter("tally.invoice.paid").Inc()
	assert.Equal(t, 3.0, testutil.ToFloat64(a.(prometheus.Counter)))

	f.Histogram("tally.scheduler.latency_ms").Observe(5)
	n, err := testutil.GatherAndCount(reg, "tally_scheduler_latency_ms")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
