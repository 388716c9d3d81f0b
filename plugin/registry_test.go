package plugin_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plugin"
)

type counter struct {
	name     string
	usage    atomic.Int32
	invoices atomic.Int32
	fail     bool
}

func (c *counter) Name() string { return c.name }

func (c *counter) OnUsageRecorded(context.Context, *meter.UsageEvent) error {
	c.usage.Add(1)
	if c.fail {
		return errors.New("boom")
	}
	return nil
}

func (c *counter) OnInvoiceGenerated(context.Context, *invoice.Invoice) error {
	c.invoices.Add(1)
	return nil
}

type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) OnInvoicePaid(ctx context.Context, _ *invoice.Invoice) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&counter{name: "a"}))
	assert.Error(t, r.Register(&counter{name: "a"}))
	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("b"))
}

func TestDispatchOnlyToImplementers(t *testing.T) {
	r := plugin.NewRegistry()
	c := &counter{name: "c"}
	require.NoError(t, r.Register(c))
	require.NoError(t, r.Register(slow{}))

	ctx := context.Background()
	r.EmitUsageRecorded(ctx, &meter.UsageEvent{})
	r.EmitUsageRecorded(ctx, &meter.UsageEvent{})
	r.EmitInvoiceGenerated(ctx, &invoice.Invoice{})
	r.EmitInvoiceOverdue(ctx, &invoice.Invoice{})

	assert.Equal(t, int32(2), c.usage.Load())
	assert.Equal(t, int32(1), c.invoices.Load())
}

func TestHookErrorsAreLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	r := plugin.NewRegistry().WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, r.Register(&counter{name: "bad", fail: true}))

	r.EmitUsageRecorded(context.Background(), &meter.UsageEvent{})
	assert.Contains(t, buf.String(), "plugin OnUsageRecorded failed")
	assert.Contains(t, buf.String(), "plugin=bad")
}

func TestSlowHookTimesOut(t *testing.T) {
	var buf bytes.Buffer
	r := plugin.NewRegistry().
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))).
		WithTimeout(10 * time.Millisecond)
	require.NoError(t, r.Register(slow{}))

	start := time.Now()
	r.EmitInvoicePaid(context.Background(), &invoice.Invoice{})
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Contains(t, buf.String(), "plugin timeout: slow")
}
