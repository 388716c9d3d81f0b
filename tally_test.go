package tally_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
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

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyStore fails aggregation on demand and counts aggregation calls.
// down also fails cycle and tier reads. afterListUnpaid, when set, runs
// once after the unpaid invoices are read.
type flakyStore struct {
	*memory.Store
	fail  atomic.Bool
	down  atomic.Bool
	calls atomic.Int64

	afterListUnpaid func()
}

var errUnreachable = errors.New("store unreachable")

func (s *flakyStore) GetOpenCycle(ctx context.Context, accountID id.AccountID) (*cycle.Cycle, error) {
	if s.down.Load() {
		return nil, errUnreachable
	}
	return s.Store.GetOpenCycle(ctx, accountID)
}

func (s *flakyStore) GetTier(ctx context.Context, tierID id.TierID) (*tier.Definition, error) {
	if s.down.Load() {
		return nil, errUnreachable
	}
	return s.Store.GetTier(ctx, tierID)
}

func (s *flakyStore) ListUnpaidInvoices(ctx context.Context, limit int) ([]*invoice.Invoice, error) {
	invs, err := s.Store.ListUnpaidInvoices(ctx, limit)
	if hook := s.afterListUnpaid; hook != nil {
		s.afterListUnpaid = nil
		hook()
	}
	return invs, err
}

func (s *flakyStore) AggregateUsage(ctx context.Context, accountID id.AccountID, start, end time.Time) (meter.Counts, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, errors.New("event store unavailable")
	}
	return s.Store.AggregateUsage(ctx, accountID, start, end)
}

type outbox struct {
	mu   sync.Mutex
	sent []*reminder.Notification
}

func (o *outbox) Notify(_ context.Context, n *reminder.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
	return nil
}

// drain returns and clears the reminder types sent so far.
func (o *outbox) drain() []reminder.Type {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]reminder.Type, 0, len(o.sent))
	for _, n := range o.sent {
		out = append(out, n.Type)
	}
	o.sent = nil
	return out
}

var signup = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine *tally.Engine
	store  *flakyStore
	clock  *testClock
	outbox *outbox
}

func newHarness(t *testing.T, opts ...tally.Option) *harness {
	t.Helper()
	h := &harness{
		store:  &flakyStore{Store: memory.New()},
		clock:  newClock(signup),
		outbox: &outbox{},
	}
	opts = append([]tally.Option{
		tally.WithClock(h.clock.Now),
		tally.WithNotifier(h.outbox),
		tally.WithSchedules(tally.Schedules{}),
	}, opts...)
	h.engine = tally.New(h.store, opts...)
	require.NoError(t, h.engine.Start(context.Background()))
	return h
}

func starterTier() *tier.Definition {
	return &tier.Definition{
		Name:     "starter",
		Currency: "usd",
		FlatFee:  types.USD(100000),
		Included: map[meter.Category]int64{meter.CategoryQuery: 500},
		UnitPrice: map[meter.Category]types.Money{
			meter.CategoryQuery: types.USD(15),
		},
	}
}

func (h *harness) account(t *testing.T, mutate func(*account.Account)) *account.Account {
	t.Helper()
	ctx := context.Background()
	if _, err := h.engine.GetLatestTier(ctx, "starter"); err != nil {
		_, err := h.engine.PublishTier(ctx, starterTier())
		require.NoError(t, err)
	}
	a := &account.Account{Name: "Acme", Tier: "starter"}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, h.engine.CreateAccount(ctx, a))
	return a
}

func (h *harness) record(t *testing.T, a *account.Account, cat meter.Category, qty int64) {
	t.Helper()
	require.NoError(t, h.engine.RecordUsage(context.Background(), &meter.UsageEvent{
		AccountID: a.ID,
		Category:  cat,
		Quantity:  qty,
	}))
}

// rollover moves the clock past the first cycle's end and invoices it.
func (h *harness) rollover(t *testing.T, a *account.Account) *invoice.Invoice {
	t.Helper()
	ctx := context.Background()
	h.clock.Set(time.Date(2024, 4, 10, 1, 0, 0, 0, time.UTC))
	n, err := h.engine.RolloverDueCycles(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	invs, err := h.engine.ListInvoices(ctx, a.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, invs, 1)
	return invs[0]
}

// ──────────────────────────────────────────────────
// Invoice scenarios
// ──────────────────────────────────────────────────

func TestInvoiceStandardAccount(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	h.record(t, a, meter.CategoryQuery, 400)
	h.record(t, a, meter.CategoryQuery, 250)

	inv := h.rollover(t, a)

	assert.Equal(t, types.USD(100000), inv.FlatFee)
	assert.Equal(t, types.USD(2250), inv.UsageCharges)
	assert.Equal(t, types.USD(102250), inv.Total)
	assert.Equal(t, invoice.StatusPending, inv.Status)
	assert.Equal(t, time.Date(2024, 4, 24, 0, 0, 0, 0, time.UTC), inv.DueDate)
	assert.NotEmpty(t, inv.ChargeDigest)
	assert.Contains(t, inv.Summary, "Total: $1022.50")
	assert.Contains(t, inv.Summary, "query: 650 over 500 included x $0.15 = $22.50")

	// Usage is billed for the closed cycle, the flat fee for the new one.
	open, err := h.engine.GetOpenCycle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, open.ID, inv.FlatFeeCycleID)
	assert.NotEqual(t, open.ID, inv.CycleID)
}

func TestInvoiceFoundingDiscount(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, func(a *account.Account) { a.Founding = true })
	h.record(t, a, meter.CategoryQuery, 650)

	inv := h.rollover(t, a)

	assert.Equal(t, types.USD(77250), inv.Total)
	assert.Equal(t, types.USD(25000), inv.DiscountTotal)
	require.Len(t, inv.Discounts, 1)
	assert.Contains(t, inv.Summary, "Discount founding (25%): -$250.00")
}

func TestInvoicePilotIsFree(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, func(a *account.Account) { a.Pilot = true })
	assert.Equal(t, subscription.StatePilot, a.Status)
	h.record(t, a, meter.CategoryQuery, 5000)
	h.record(t, a, meter.CategoryPhoto, 40)

	inv := h.rollover(t, a)

	assert.True(t, inv.Total.IsZero())
	assert.Equal(t, invoice.StatusPaid, inv.Status)
	assert.Contains(t, inv.Summary, "Nothing to pay.")
}

func TestInvoiceFlagsUnpricedUsage(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	h.record(t, a, meter.Category("video"), 3)
	h.record(t, a, meter.CategoryDocument, 12)

	inv := h.rollover(t, a)

	assert.True(t, inv.Flagged)
	assert.Equal(t, types.USD(100000), inv.Total)
	var flagged []meter.Category
	for _, li := range inv.LineItems {
		if li.Flagged {
			flagged = append(flagged, li.Category)
		}
	}
	assert.ElementsMatch(t, []meter.Category{"video", meter.CategoryDocument}, flagged)
}

func TestGenerateInvoiceDuplicate(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.clock.Advance(48 * time.Hour)

	first, err := h.engine.GenerateInvoice(ctx, a.ID)
	require.NoError(t, err)

	// A retry resolves to the cycle just closed instead of closing the new one.
	_, err = h.engine.GenerateInvoice(ctx, a.ID)
	var dup *tally.DuplicateInvoiceError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.Existing.ID)
	assert.ErrorIs(t, err, tally.ErrInvoiceExists)

	_, err = h.engine.InvoiceCycle(ctx, first.CycleID)
	require.ErrorAs(t, err, &dup)

	closed, err := h.engine.ListCycles(ctx, a.ID, cycle.ListOpts{Status: cycle.StatusClosed})
	require.NoError(t, err)
	assert.Len(t, closed, 1)
}

func TestEarlyCloseTruncatesCycle(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.clock.Advance(72 * time.Hour)

	closed, err := h.engine.CloseCycle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now(), closed.End)

	next, err := h.engine.GetOpenCycle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, closed.End, next.Start)
	assert.Equal(t, closed.ID, next.PreviousID)
	assert.Equal(t, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), next.End)
}

func TestTierVersionBoundToCycle(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.record(t, a, meter.CategoryQuery, 650)

	same, err := h.engine.PublishTier(ctx, starterTier())
	require.NoError(t, err)
	assert.Equal(t, 1, same.Version)

	raised := starterTier()
	raised.FlatFee = types.USD(120000)
	raised.UnitPrice[meter.CategoryQuery] = types.USD(20)
	v2, err := h.engine.PublishTier(ctx, raised)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	inv := h.rollover(t, a)

	// Usage at the old price, flat fee of the new cycle's version.
	assert.Equal(t, types.USD(2250), inv.UsageCharges)
	assert.Equal(t, types.USD(120000), inv.FlatFee)

	open, err := h.engine.GetOpenCycle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, open.TierID)
}

func TestCompensatingInvoice(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.record(t, a, meter.CategoryQuery, 650)
	orig := h.rollover(t, a)

	credit, err := h.engine.IssueCompensatingInvoice(ctx, orig.ID, []tally.Adjustment{
		{Description: "duplicate queries", Amount: types.USD(-2250)},
	}, "query retries billed twice")
	require.NoError(t, err)

	assert.Equal(t, invoice.KindCompensating, credit.Kind)
	assert.Equal(t, orig.ID, credit.CorrectsID)
	assert.Equal(t, types.USD(-2250), credit.Total)
	assert.Equal(t, invoice.StatusPaid, credit.Status)

	got, err := h.engine.GetInvoice(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(102250), got.Total)

	_, err = h.engine.IssueCompensatingInvoice(ctx, credit.ID, []tally.Adjustment{{Amount: types.USD(1)}}, "x")
	assert.ErrorIs(t, err, tally.ErrInvalidInput)
}

func TestInvoiceCurrencyConversion(t *testing.T) {
	h := newHarness(t, tally.WithRates(tally.StaticRates{"eur:usd": decimal.RequireFromString("1.25")}))
	a := h.account(t, func(a *account.Account) { a.Currency = "EUR" })
	h.record(t, a, meter.CategoryQuery, 650)

	inv := h.rollover(t, a)

	require.NotNil(t, inv.Conversion)
	assert.Equal(t, "eur", inv.Conversion.Currency)
	assert.Equal(t, types.EUR(81800), inv.Conversion.Total)
}

// ──────────────────────────────────────────────────
// Concurrency
// ──────────────────────────────────────────────────

func TestConcurrentCloseHasOneWinner(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.clock.Advance(24 * time.Hour)

	const racers = 4
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]*cycle.Cycle, racers)
		errs    = make([]error, racers)
	)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = h.engine.CloseCycle(ctx, a.ID)
		}()
	}
	close(start)
	wg.Wait()

	var winner *cycle.Cycle
	for i, err := range errs {
		if err == nil {
			require.Nil(t, winner, "more than one close succeeded")
			winner = results[i]
		}
	}
	require.NotNil(t, winner)

	for _, err := range errs {
		if err == nil {
			continue
		}
		var conflict *tally.ConcurrentCloseConflict
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, winner.ID, conflict.Cycle.ID)
	}

	closed, err := h.engine.ListCycles(ctx, a.ID, cycle.ListOpts{Status: cycle.StatusClosed})
	require.NoError(t, err)
	assert.Len(t, closed, 1)
}

func TestConcurrentGenerateInvoiceIssuesOnce(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.clock.Advance(24 * time.Hour)

	var (
		wg     sync.WaitGroup
		issued atomic.Int32
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.GenerateInvoice(ctx, a.ID); err == nil {
				issued.Add(1)
			} else {
				assert.ErrorIs(t, err, tally.ErrInvoiceExists)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), issued.Load())
	invs, err := h.engine.ListInvoices(ctx, a.ID, invoice.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, invs, 1)
}

// ──────────────────────────────────────────────────
// Usage
// ──────────────────────────────────────────────────

func TestRecordUsageIdempotent(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, h.engine.RecordUsage(ctx, &meter.UsageEvent{
			AccountID:      a.ID,
			Category:       meter.CategoryDocument,
			Quantity:       1,
			IdempotencyKey: "upload-1",
		}))
	}

	sum, err := h.engine.GetUsageSummary(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Counts[meter.CategoryDocument])

	err = h.engine.RecordUsage(ctx, &meter.UsageEvent{AccountID: a.ID, Category: meter.CategoryQuery, Quantity: -1})
	assert.ErrorIs(t, err, tally.ErrInvalidQuantity)
}

func TestUsageSummaryMemoAndInvalidation(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.record(t, a, meter.CategoryQuery, 600)

	sum, err := h.engine.GetUsageSummary(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sum.Overage[meter.CategoryQuery])
	assert.Equal(t, types.USD(1500), sum.Charges.Total)

	calls := h.store.calls.Load()
	_, err = h.engine.GetUsageSummary(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, calls, h.store.calls.Load(), "second read should be memoized")

	h.record(t, a, meter.CategoryQuery, 1)
	sum, err = h.engine.GetUsageSummary(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(601), sum.Counts[meter.CategoryQuery])
}

func TestUsageSummaryStaleFallback(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.record(t, a, meter.CategoryQuery, 3)

	_, err := h.engine.GetUsageSummary(ctx, a.ID)
	require.NoError(t, err)

	h.record(t, a, meter.CategoryQuery, 2)
	h.store.fail.Store(true)

	sum, err := h.engine.GetUsageSummary(ctx, a.ID)
	var warn *tally.StaleAggregationWarning
	require.ErrorAs(t, err, &warn)
	require.NotNil(t, sum)
	assert.True(t, sum.Stale)
	assert.Equal(t, int64(3), sum.Counts[meter.CategoryQuery])

	// Without a previous snapshot there is nothing to fall back on.
	b := h.account(t, func(a *account.Account) { a.Name = "Beta" })
	sum, err = h.engine.GetUsageSummary(ctx, b.ID)
	assert.Nil(t, sum)
	assert.Error(t, err)
	assert.False(t, errors.As(err, &warn))

	// Invoicing never bills from a stale snapshot.
	h.clock.Advance(48 * time.Hour)
	_, err = h.engine.GenerateInvoice(ctx, a.ID)
	assert.Error(t, err)
}

func TestUsageSummaryWithStoreUnreachable(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	fresh := h.account(t, func(a *account.Account) { a.Name = "Beta" })
	ctx := context.Background()
	h.record(t, a, meter.CategoryQuery, 3)

	_, err := h.engine.GetUsageSummary(ctx, a.ID)
	require.NoError(t, err)
	h.record(t, a, meter.CategoryQuery, 2)

	h.store.down.Store(true)
	h.store.fail.Store(true)

	sum, err := h.engine.GetUsageSummary(ctx, a.ID)
	var warn *tally.StaleAggregationWarning
	require.ErrorAs(t, err, &warn)
	require.NotNil(t, sum)
	assert.True(t, sum.Stale)
	assert.Equal(t, "starter", sum.Tier)
	assert.Equal(t, int64(3), sum.Counts[meter.CategoryQuery])

	// Events are readable again but the cycle is not: counts are fresh,
	// the summary still stale.
	h.store.fail.Store(false)
	sum, err = h.engine.GetUsageSummary(ctx, a.ID)
	require.ErrorAs(t, err, &warn)
	assert.ErrorIs(t, warn, errUnreachable)
	assert.True(t, sum.Stale)
	assert.Equal(t, int64(5), sum.Counts[meter.CategoryQuery])

	// An account never summarized has nothing to stand in.
	sum, err = h.engine.GetUsageSummary(ctx, fresh.ID)
	assert.Nil(t, sum)
	assert.ErrorIs(t, err, errUnreachable)

	h.store.down.Store(false)
	sum, err = h.engine.GetUsageSummary(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, sum.Stale)
}

// ──────────────────────────────────────────────────
// Reminders and lifecycle
// ──────────────────────────────────────────────────

func TestReminderTimingAndSuspension(t *testing.T) {
	h := newHarness(t, tally.WithDueDays(7))
	a := h.account(t, nil)
	ctx := context.Background()
	h.record(t, a, meter.CategoryQuery, 650)
	inv := h.rollover(t, a)
	require.Equal(t, time.Date(2024, 4, 17, 0, 0, 0, 0, time.UTC), inv.DueDate)

	tick := func(day int) []reminder.Type {
		h.clock.Set(time.Date(2024, 4, 10+day, 9, 0, 0, 0, time.UTC))
		_, err := h.engine.RunReminders(ctx)
		require.NoError(t, err)
		return h.outbox.drain()
	}

	expected := map[int][]reminder.Type{
		0:  {reminder.TypeFarAdvance},
		4:  {reminder.TypeNearAdvance},
		6:  {reminder.TypeFinal},
		7:  {reminder.TypeIssued},
		10: {reminder.TypeGraceWarning},
		14: {reminder.TypeSuspensionWarning},
	}
	for day := 0; day <= 15; day++ {
		got := tick(day)
		if want, ok := expected[day]; ok {
			assert.Equal(t, want, got, "day %d", day)
		} else {
			assert.Empty(t, got, "day %d", day)
		}

		acct, err := h.engine.GetAccount(ctx, a.ID)
		require.NoError(t, err)
		switch {
		case day <= 7:
			assert.Equal(t, subscription.StateTrial, acct.Status, "day %d", day)
		case day < 14:
			assert.Equal(t, subscription.StateGracePeriod, acct.Status, "day %d", day)
		default:
			assert.Equal(t, subscription.StateSuspended, acct.Status, "day %d", day)
		}
	}

	// Re-running the same tick never re-sends.
	_, err := h.engine.RunReminders(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.outbox.drain())

	recs, err := h.engine.ListReminders(ctx, reminder.ListOpts{InvoiceID: inv.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 6)

	err = h.engine.RecordUsage(ctx, &meter.UsageEvent{AccountID: a.ID, Category: meter.CategoryQuery, Quantity: 1})
	assert.True(t, tally.IsInactive(err))
	assert.Contains(t, err.Error(), "service suspended")

	paid, err := h.engine.RecordPayment(ctx, inv.ID, "wire-778")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)

	acct, err := h.engine.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateActive, acct.Status)
	h.record(t, a, meter.CategoryQuery, 1)
}

func TestPaymentDuringReminderTick(t *testing.T) {
	h := newHarness(t, tally.WithDueDays(0))
	a := h.account(t, nil)
	ctx := context.Background()
	h.record(t, a, meter.CategoryQuery, 650)
	inv := h.rollover(t, a)

	// One day late: overdue and in grace.
	h.clock.Set(time.Date(2024, 4, 11, 9, 0, 0, 0, time.UTC))
	_, err := h.engine.RunReminders(ctx)
	require.NoError(t, err)
	h.outbox.drain()
	acct, err := h.engine.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StateGracePeriod, acct.Status)

	// Eight days late, but the payment lands after the tick read its list.
	h.clock.Set(time.Date(2024, 4, 18, 9, 0, 0, 0, time.UTC))
	h.store.afterListUnpaid = func() {
		_, err := h.engine.RecordPayment(ctx, inv.ID, "card-42")
		require.NoError(t, err)
	}
	_, err = h.engine.RunReminders(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.outbox.drain())

	acct, err = h.engine.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateActive, acct.Status)

	got, err := h.engine.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)

	recs, err := h.engine.ListReminders(ctx, reminder.ListOpts{InvoiceID: inv.ID})
	require.NoError(t, err)
	for _, r := range recs {
		assert.NotEqual(t, reminder.TypeGraceWarning, r.Type)
		assert.NotEqual(t, reminder.TypeSuspensionWarning, r.Type)
	}
}

func TestPaymentBeforeFirstOverdueTick(t *testing.T) {
	h := newHarness(t, tally.WithDueDays(0))
	a := h.account(t, nil)
	ctx := context.Background()
	inv := h.rollover(t, a)

	h.clock.Set(time.Date(2024, 4, 18, 9, 0, 0, 0, time.UTC))
	h.store.afterListUnpaid = func() {
		_, err := h.engine.RecordPayment(ctx, inv.ID, "card-43")
		require.NoError(t, err)
	}
	_, err := h.engine.RunReminders(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.outbox.drain())

	acct, err := h.engine.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateActive, acct.Status)
}

func TestRemindersCatchUp(t *testing.T) {
	h := newHarness(t, tally.WithDueDays(2))
	a := h.account(t, nil)
	h.rollover(t, a)

	_, err := h.engine.RunReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []reminder.Type{
		reminder.TypeFarAdvance,
		reminder.TypeNearAdvance,
	}, h.outbox.drain())
}

func TestProlongedNonPaymentCancels(t *testing.T) {
	h := newHarness(t, tally.WithDueDays(0))
	a := h.account(t, nil)
	ctx := context.Background()
	h.rollover(t, a)

	h.clock.Set(time.Date(2024, 4, 18, 9, 0, 0, 0, time.UTC))
	_, err := h.engine.RunReminders(ctx)
	require.NoError(t, err)
	acct, err := h.engine.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StateSuspended, acct.Status)

	h.clock.Set(time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC))
	_, err = h.engine.RunReminders(ctx)
	require.NoError(t, err)

	acct, err = h.engine.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateCancelled, acct.Status)

	_, err = h.engine.GetOpenCycle(ctx, a.ID)
	assert.ErrorIs(t, err, tally.ErrNoOpenCycle)

	invs, err := h.engine.ListInvoices(ctx, a.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, invs, 2)
	final := invs[1]
	assert.True(t, final.FlatFee.IsZero())
	assert.True(t, final.FlatFeeCycleID.IsNil())
}

func TestCancelAccountIssuesFinalInvoice(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.record(t, a, meter.CategoryQuery, 700)
	h.clock.Advance(24 * time.Hour)

	acct, final, err := h.engine.CancelAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateCancelled, acct.Status)
	require.NotNil(t, final)
	assert.Equal(t, types.USD(3000), final.Total)

	err = h.engine.RecordUsage(ctx, &meter.UsageEvent{AccountID: a.ID, Category: meter.CategoryQuery, Quantity: 1})
	var inactive *tally.SubscriptionInactiveError
	require.ErrorAs(t, err, &inactive)
	assert.Equal(t, subscription.StateCancelled, inactive.Status)

	_, _, err = h.engine.CancelAccount(ctx, a.ID)
	assert.ErrorIs(t, err, tally.ErrInvalidTransition)
}

func TestConvertPilot(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, func(a *account.Account) { a.Pilot = true })
	ctx := context.Background()

	acct, err := h.engine.ConvertPilot(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StateActive, acct.Status)
	assert.False(t, acct.Pilot)

	h.record(t, a, meter.CategoryQuery, 650)
	inv := h.rollover(t, a)
	assert.Equal(t, types.USD(102250), inv.Total)

	_, err = h.engine.ConvertPilot(ctx, a.ID)
	assert.ErrorIs(t, err, tally.ErrInvalidTransition)
}

func TestRolloverCatchesUpMissedCycles(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()

	h.clock.Set(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	n, err := h.engine.RolloverDueCycles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cycles, err := h.engine.ListCycles(ctx, a.ID, cycle.ListOpts{})
	require.NoError(t, err)
	require.Len(t, cycles, 4)
	for i := 1; i < len(cycles); i++ {
		assert.Equal(t, cycles[i-1].End, cycles[i].Start, "cycles must be contiguous")
	}
	assert.Equal(t, "2024-06", cycles[3].Label)
}

func TestRolloverRetriesFailedInvoice(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()
	h.record(t, a, meter.CategoryQuery, 650)
	first, err := h.engine.GetOpenCycle(ctx, a.ID)
	require.NoError(t, err)

	h.clock.Set(time.Date(2024, 4, 10, 1, 0, 0, 0, time.UTC))
	h.store.fail.Store(true)
	n, err := h.engine.RolloverDueCycles(ctx)
	assert.Equal(t, 1, n)
	require.Error(t, err)

	invs, err := h.engine.ListInvoices(ctx, a.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.Empty(t, invs)

	h.store.fail.Store(false)
	h.clock.Advance(time.Hour)
	n, err = h.engine.RolloverDueCycles(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	invs, err = h.engine.ListInvoices(ctx, a.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, first.ID, invs[0].CycleID)
	assert.Equal(t, types.USD(102250), invs[0].Total)

	// Later passes find nothing left to recover.
	h.clock.Advance(time.Hour)
	_, err = h.engine.RolloverDueCycles(ctx)
	require.NoError(t, err)
	invs, err = h.engine.ListInvoices(ctx, a.ID, invoice.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, invs, 1)
}

func TestHealCycles(t *testing.T) {
	h := newHarness(t)
	a := h.account(t, nil)
	ctx := context.Background()

	open, err := h.engine.GetOpenCycle(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, h.store.CloseCycle(ctx, open.ID, open.End, h.clock.Now()))

	n, err := h.engine.HealCycles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	healed, err := h.engine.GetOpenCycle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, open.End, healed.Start)

	n, err = h.engine.HealCycles(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	e := tally.New(memory.New(),
		tally.WithSchedules(tally.Schedules{Rollover: "not a cron spec"}),
	)
	err := e.Start(context.Background())
	var cfg *tally.ConfigurationError
	assert.ErrorAs(t, err, &cfg)
}
