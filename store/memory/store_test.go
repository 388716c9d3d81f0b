package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/account"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/tier"
	"github.com/xraph/tally/types"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openCycle(acct id.AccountID, start time.Time) *cycle.Cycle {
	return &cycle.Cycle{
		ID:        id.NewCycleID(),
		AccountID: acct,
		Start:     start,
		End:       cycle.Monthly.End(start, start.Day()),
		AnchorDay: start.Day(),
		Status:    cycle.StatusOpen,
	}
}

func TestAccountStatusCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	a := &account.Account{ID: id.NewAccountID(), Name: "Acme", Status: subscription.StateTrial}
	require.NoError(t, s.CreateAccount(ctx, a))
	assert.ErrorIs(t, s.CreateAccount(ctx, a), tally.ErrAlreadyExists)

	require.NoError(t, s.UpdateAccountStatus(ctx, a.ID, subscription.StateTrial, subscription.StateActive, t0))
	err := s.UpdateAccountStatus(ctx, a.ID, subscription.StateTrial, subscription.StateCancelled, t0)
	assert.ErrorIs(t, err, tally.ErrConflict)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateActive, got.Status)

	// Profile updates never touch status.
	got.Name = "Acme Legal"
	got.Status = subscription.StateCancelled
	require.NoError(t, s.UpdateAccount(ctx, got))
	got, err = s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Legal", got.Name)
	assert.Equal(t, subscription.StateActive, got.Status)

	_, err = s.GetAccount(ctx, id.NewAccountID())
	assert.True(t, tally.IsNotFound(err))
}

func TestTierVersions(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	for v := 1; v <= 3; v++ {
		require.NoError(t, s.CreateTier(ctx, &tier.Definition{
			ID: id.NewTierID(), Name: "growth", Version: v, Currency: "usd", FlatFee: types.USD(int64(v) * 1000),
		}))
	}
	dup := &tier.Definition{ID: id.NewTierID(), Name: "growth", Version: 2, Currency: "usd"}
	assert.ErrorIs(t, s.CreateTier(ctx, dup), tally.ErrAlreadyExists)

	latest, err := s.GetLatestTier(ctx, "growth")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	all, err := s.ListTiers(ctx, "growth")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].Version)

	_, err = s.GetLatestTier(ctx, "missing")
	assert.ErrorIs(t, err, tally.ErrTierNotFound)
}

func TestSingleOpenCycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	acct := id.NewAccountID()

	first := openCycle(acct, t0)
	require.NoError(t, s.CreateCycle(ctx, first))
	assert.ErrorIs(t, s.CreateCycle(ctx, openCycle(acct, t0)), tally.ErrOpenCycleExists)

	require.NoError(t, s.CloseCycle(ctx, first.ID, first.End, first.End))
	assert.ErrorIs(t, s.CloseCycle(ctx, first.ID, first.End, first.End), tally.ErrCycleNotOpen)

	_, err := s.GetOpenCycle(ctx, acct)
	assert.ErrorIs(t, err, tally.ErrNoOpenCycle)

	second := openCycle(acct, first.End)
	require.NoError(t, s.CreateCycle(ctx, second))

	cycles, err := s.ListCycles(ctx, acct, cycle.ListOpts{})
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, cycles[0].End, cycles[1].Start)
}

func TestConcurrentCloseHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	c := openCycle(id.NewAccountID(), t0)
	require.NoError(t, s.CreateCycle(ctx, c))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.CloseCycle(ctx, c.ID, c.End, c.End) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestListDueCycles(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	due := openCycle(id.NewAccountID(), t0)
	notDue := openCycle(id.NewAccountID(), t0.AddDate(0, 1, 0))
	require.NoError(t, s.CreateCycle(ctx, due))
	require.NoError(t, s.CreateCycle(ctx, notDue))

	got, err := s.ListDueCycles(ctx, due.End, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestListUninvoicedCycles(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	acct := id.NewAccountID()

	billed := openCycle(acct, t0)
	require.NoError(t, s.CreateCycle(ctx, billed))
	require.NoError(t, s.CloseCycle(ctx, billed.ID, billed.End, billed.End))

	unbilled := openCycle(acct, billed.End)
	require.NoError(t, s.CreateCycle(ctx, unbilled))
	require.NoError(t, s.CloseCycle(ctx, unbilled.ID, unbilled.End, unbilled.End))

	require.NoError(t, s.CreateCycle(ctx, openCycle(acct, unbilled.End)))

	require.NoError(t, s.CreateInvoice(ctx, &invoice.Invoice{
		ID: id.NewInvoiceID(), AccountID: acct, CycleID: billed.ID, Kind: invoice.KindStandard,
		Status: invoice.StatusPending, Total: types.USD(100), IssuedAt: billed.End, DueDate: billed.End,
	}))
	// A correction does not bill the cycle.
	require.NoError(t, s.CreateInvoice(ctx, &invoice.Invoice{
		ID: id.NewInvoiceID(), AccountID: acct, CycleID: unbilled.ID, Kind: invoice.KindCompensating,
		Status: invoice.StatusPending, Total: types.USD(100), IssuedAt: unbilled.End, DueDate: unbilled.End,
	}))

	got, err := s.ListUninvoicedCycles(ctx, unbilled.End, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, unbilled.ID, got[0].ID)

	got, err = s.ListUninvoicedCycles(ctx, unbilled.End.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, got, "closed after the cutoff")
}

func TestUsageAggregation(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	acct := id.NewAccountID()

	add := func(cat meter.Category, qty int64, at time.Time, key string) error {
		return s.AppendUsage(ctx, &meter.UsageEvent{
			ID: id.NewUsageEventID(), AccountID: acct, Category: cat, Quantity: qty, Timestamp: at, IdempotencyKey: key,
		})
	}
	require.NoError(t, add(meter.CategoryQuery, 600, t0, ""))
	require.NoError(t, add(meter.CategoryQuery, 50, t0.Add(time.Hour), "k1"))
	assert.ErrorIs(t, add(meter.CategoryQuery, 50, t0.Add(time.Hour), "k1"), tally.ErrDuplicateEvent)
	require.NoError(t, add(meter.CategoryPhoto, 2, t0.AddDate(0, 1, 0), ""))

	counts, err := s.AggregateUsage(ctx, acct, t0, t0.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, meter.Counts{meter.CategoryQuery: 650}, counts)

	events, err := s.QueryUsage(ctx, acct, meter.QueryOpts{Category: meter.CategoryPhoto})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestInvoiceUniquenessAndPayment(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	acct, cyc := id.NewAccountID(), id.NewCycleID()

	inv := &invoice.Invoice{
		ID: id.NewInvoiceID(), AccountID: acct, CycleID: cyc, Kind: invoice.KindStandard,
		Status: invoice.StatusPending, Total: types.USD(102250), IssuedAt: t0, DueDate: t0.AddDate(0, 0, 14),
	}
	require.NoError(t, s.CreateInvoice(ctx, inv))

	again := *inv
	again.ID = id.NewInvoiceID()
	assert.ErrorIs(t, s.CreateInvoice(ctx, &again), tally.ErrInvoiceExists)

	correction := *inv
	correction.ID = id.NewInvoiceID()
	correction.Kind = invoice.KindCompensating
	correction.CorrectsID = inv.ID
	require.NoError(t, s.CreateInvoice(ctx, &correction))

	got, err := s.GetInvoiceByCycle(ctx, acct, cyc)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)

	unpaid, err := s.ListUnpaidInvoices(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, unpaid, 2)

	require.NoError(t, s.MarkInvoiceOverdue(ctx, inv.ID))
	require.NoError(t, s.MarkInvoicePaid(ctx, inv.ID, t0.AddDate(0, 0, 20), "wire-1"))
	assert.ErrorIs(t, s.MarkInvoicePaid(ctx, inv.ID, t0, "wire-2"), tally.ErrInvoiceNotPayable)

	got, err = s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
	assert.Equal(t, "wire-1", got.PaymentRef)
}

func TestReminderUniqueness(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	acct, cyc, inv := id.NewAccountID(), id.NewCycleID(), id.NewInvoiceID()

	var created atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateReminder(ctx, &reminder.Record{
				ID: id.NewReminderID(), AccountID: acct, CycleID: cyc, InvoiceID: inv,
				Type: reminder.TypeFarAdvance, Offset: -7, RecordedAt: t0,
			})
			if err == nil {
				created.Add(1)
			} else {
				assert.ErrorIs(t, err, tally.ErrReminderExists)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())

	recs, err := s.ListReminders(ctx, reminder.ListOpts{InvoiceID: inv})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, s.MarkReminderDelivered(ctx, recs[0].ID, t0, ""))
	recs, err = s.ListReminders(ctx, reminder.ListOpts{AccountID: acct})
	require.NoError(t, err)
	require.NotNil(t, recs[0].DeliveredAt)
}

func TestClose(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), tally.ErrStoreClosed)
}
