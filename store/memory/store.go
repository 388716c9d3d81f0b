// Package memory is an in-process store backend. It is safe for concurrent
// use and enforces the same uniqueness rules as the database backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/account"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/tier"
	"github.com/xraph/tally/types"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	accounts map[string]*account.Account

	tiers map[string]*tier.Definition

	cycles     map[string]*cycle.Cycle
	openCycles map[string]string // account ID -> open cycle ID

	events    map[string][]*meter.UsageEvent // account ID -> events
	eventKeys map[string]struct{}            // account ID + idempotency key

	invoices       map[string]*invoice.Invoice
	invoiceByCycle map[string]string // account ID + cycle ID -> standard invoice ID

	reminders    map[string]*reminder.Record
	reminderKeys map[string]struct{} // account ID + cycle ID + type
}

func New() *Store {
	return &Store{
		accounts:       make(map[string]*account.Account),
		tiers:          make(map[string]*tier.Definition),
		cycles:         make(map[string]*cycle.Cycle),
		openCycles:     make(map[string]string),
		events:         make(map[string][]*meter.UsageEvent),
		eventKeys:      make(map[string]struct{}),
		invoices:       make(map[string]*invoice.Invoice),
		invoiceByCycle: make(map[string]string),
		reminders:      make(map[string]*reminder.Record),
		reminderKeys:   make(map[string]struct{}),
	}
}

func key(parts ...string) string {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, '|')
		}
		b = append(b, p...)
	}
	return string(b)
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func timePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ==================== Account Store ====================

func cloneAccount(a *account.Account) *account.Account {
	c := *a
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	s.accounts[a.ID.String()] = cloneAccount(a)
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[accountID.String()]; ok {
		return cloneAccount(a), nil
	}
	return nil, tally.ErrAccountNotFound
}

func (s *Store) ListAccounts(_ context.Context, opts account.ListOpts) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if opts.Status == "" || a.Status == opts.Status {
			result = append(result, cloneAccount(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[a.ID.String()]
	if !ok {
		return tally.ErrAccountNotFound
	}
	next := cloneAccount(a)
	next.Status = cur.Status
	next.StatusChangedAt = cur.StatusChangedAt
	next.CreatedAt = cur.CreatedAt
	s.accounts[a.ID.String()] = next
	return nil
}

func (s *Store) UpdateAccountStatus(_ context.Context, accountID id.AccountID, from, to subscription.State, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return tally.ErrAccountNotFound
	}
	if a.Status != from {
		return tally.ErrConflict
	}
	a.Status = to
	a.StatusChangedAt = at
	a.UpdatedAt = at
	return nil
}

// ==================== Tier Store ====================

func cloneTier(d *tier.Definition) *tier.Definition {
	c := *d
	c.Included = make(map[meter.Category]int64, len(d.Included))
	for k, v := range d.Included {
		c.Included[k] = v
	}
	c.UnitPrice = make(map[meter.Category]types.Money, len(d.UnitPrice))
	for k, v := range d.UnitPrice {
		c.UnitPrice[k] = v
	}
	return &c
}

func (s *Store) CreateTier(_ context.Context, d *tier.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tiers[d.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	for _, t := range s.tiers {
		if t.Name == d.Name && t.Version == d.Version {
			return tally.ErrAlreadyExists
		}
	}
	s.tiers[d.ID.String()] = cloneTier(d)
	return nil
}

func (s *Store) GetTier(_ context.Context, tierID id.TierID) (*tier.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.tiers[tierID.String()]; ok {
		return cloneTier(d), nil
	}
	return nil, tally.ErrTierNotFound
}

func (s *Store) GetLatestTier(_ context.Context, name string) (*tier.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *tier.Definition
	for _, d := range s.tiers {
		if d.Name == name && (latest == nil || d.Version > latest.Version) {
			latest = d
		}
	}
	if latest == nil {
		return nil, tally.ErrTierNotFound
	}
	return cloneTier(latest), nil
}

func (s *Store) ListTiers(_ context.Context, name string) ([]*tier.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*tier.Definition, 0)
	for _, d := range s.tiers {
		if name == "" || d.Name == name {
			result = append(result, cloneTier(d))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Version < result[j].Version
	})
	return result, nil
}

// ==================== Cycle Store ====================

func cloneCycle(c *cycle.Cycle) *cycle.Cycle {
	out := *c
	out.ClosedAt = timePtr(c.ClosedAt)
	return &out
}

func (s *Store) CreateCycle(_ context.Context, c *cycle.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cycles[c.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	acct := c.AccountID.String()
	if c.Status == cycle.StatusOpen {
		if _, open := s.openCycles[acct]; open {
			return tally.ErrOpenCycleExists
		}
		s.openCycles[acct] = c.ID.String()
	}
	s.cycles[c.ID.String()] = cloneCycle(c)
	return nil
}

func (s *Store) GetCycle(_ context.Context, cycleID id.CycleID) (*cycle.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.cycles[cycleID.String()]; ok {
		return cloneCycle(c), nil
	}
	return nil, tally.ErrCycleNotFound
}

func (s *Store) GetOpenCycle(_ context.Context, accountID id.AccountID) (*cycle.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cid, ok := s.openCycles[accountID.String()]
	if !ok {
		return nil, tally.ErrNoOpenCycle
	}
	return cloneCycle(s.cycles[cid]), nil
}

func (s *Store) GetCycleByStart(_ context.Context, accountID id.AccountID, start time.Time) (*cycle.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.cycles {
		if c.AccountID == accountID && c.Start.Equal(start) {
			return cloneCycle(c), nil
		}
	}
	return nil, tally.ErrCycleNotFound
}

func (s *Store) ListCycles(_ context.Context, accountID id.AccountID, opts cycle.ListOpts) ([]*cycle.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*cycle.Cycle, 0)
	for _, c := range s.cycles {
		if c.AccountID == accountID && (opts.Status == "" || c.Status == opts.Status) {
			result = append(result, cloneCycle(c))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start.Before(result[j].Start) })
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) ListDueCycles(_ context.Context, before time.Time, limit int) ([]*cycle.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*cycle.Cycle, 0)
	for _, cid := range s.openCycles {
		c := s.cycles[cid]
		if !c.End.After(before) {
			result = append(result, cloneCycle(c))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].End.Before(result[j].End) })
	return page(result, limit, 0), nil
}

func (s *Store) ListUninvoicedCycles(_ context.Context, closedBefore time.Time, limit int) ([]*cycle.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*cycle.Cycle, 0)
	for _, c := range s.cycles {
		if c.Status != cycle.StatusClosed || c.ClosedAt == nil || c.ClosedAt.After(closedBefore) {
			continue
		}
		if _, ok := s.invoiceByCycle[key(c.AccountID.String(), c.ID.String())]; ok {
			continue
		}
		result = append(result, cloneCycle(c))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClosedAt.Before(*result[j].ClosedAt) })
	return page(result, limit, 0), nil
}

func (s *Store) CloseCycle(_ context.Context, cycleID id.CycleID, end, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cycles[cycleID.String()]
	if !ok {
		return tally.ErrCycleNotFound
	}
	if c.Status != cycle.StatusOpen {
		return tally.ErrCycleNotOpen
	}
	c.Status = cycle.StatusClosed
	c.End = end
	c.ClosedAt = &closedAt
	c.UpdatedAt = closedAt
	delete(s.openCycles, c.AccountID.String())
	return nil
}

// ==================== Meter Store ====================

func (s *Store) AppendUsage(_ context.Context, e *meter.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := e.AccountID.String()
	if e.IdempotencyKey != "" {
		k := key(acct, e.IdempotencyKey)
		if _, dup := s.eventKeys[k]; dup {
			return tally.ErrDuplicateEvent
		}
		s.eventKeys[k] = struct{}{}
	}
	c := *e
	s.events[acct] = append(s.events[acct], &c)
	return nil
}

func (s *Store) AggregateUsage(_ context.Context, accountID id.AccountID, start, end time.Time) (meter.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(meter.Counts)
	for _, e := range s.events[accountID.String()] {
		if !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
			counts[e.Category] += e.Quantity
		}
	}
	return counts, nil
}

func (s *Store) QueryUsage(_ context.Context, accountID id.AccountID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*meter.UsageEvent, 0)
	for _, e := range s.events[accountID.String()] {
		if opts.Category != "" && e.Category != opts.Category {
			continue
		}
		if !opts.Start.IsZero() && e.Timestamp.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && !e.Timestamp.Before(opts.End) {
			continue
		}
		c := *e
		result = append(result, &c)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return page(result, opts.Limit, opts.Offset), nil
}

// ==================== Invoice Store ====================

func cloneInvoice(inv *invoice.Invoice) *invoice.Invoice {
	c := *inv
	c.LineItems = append([]invoice.LineItem(nil), inv.LineItems...)
	c.Discounts = append(c.Discounts[:0:0], inv.Discounts...)
	if inv.Conversion != nil {
		conv := *inv.Conversion
		c.Conversion = &conv
	}
	c.PaidAt = timePtr(inv.PaidAt)
	return &c
}

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	if inv.Kind == invoice.KindStandard {
		k := key(inv.AccountID.String(), inv.CycleID.String())
		if _, dup := s.invoiceByCycle[k]; dup {
			return tally.ErrInvoiceExists
		}
		s.invoiceByCycle[k] = inv.ID.String()
	}
	s.invoices[inv.ID.String()] = cloneInvoice(inv)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoices[invID.String()]; ok {
		return cloneInvoice(inv), nil
	}
	return nil, tally.ErrInvoiceNotFound
}

func (s *Store) GetInvoiceByCycle(_ context.Context, accountID id.AccountID, cycleID id.CycleID) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invID, ok := s.invoiceByCycle[key(accountID.String(), cycleID.String())]
	if !ok {
		return nil, tally.ErrInvoiceNotFound
	}
	return cloneInvoice(s.invoices[invID]), nil
}

func (s *Store) ListInvoices(_ context.Context, accountID id.AccountID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.AccountID != accountID {
			continue
		}
		if (opts.Status == "" || inv.Status == opts.Status) && (opts.Kind == "" || inv.Kind == opts.Kind) {
			result = append(result, cloneInvoice(inv))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IssuedAt.Before(result[j].IssuedAt) })
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) ListUnpaidInvoices(_ context.Context, limit int) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.IsUnpaid() {
			result = append(result, cloneInvoice(inv))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DueDate.Before(result[j].DueDate) })
	return page(result, limit, 0), nil
}

func (s *Store) MarkInvoicePaid(_ context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invID.String()]
	if !ok {
		return tally.ErrInvoiceNotFound
	}
	if !inv.IsUnpaid() {
		return tally.ErrInvoiceNotPayable
	}
	inv.Status = invoice.StatusPaid
	inv.PaidAt = &paidAt
	inv.PaymentRef = paymentRef
	inv.UpdatedAt = paidAt
	return nil
}

func (s *Store) MarkInvoiceOverdue(_ context.Context, invID id.InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invID.String()]
	if !ok {
		return tally.ErrInvoiceNotFound
	}
	if inv.Status != invoice.StatusPending {
		return tally.ErrConflict
	}
	inv.Status = invoice.StatusOverdue
	return nil
}

// ==================== Reminder Store ====================

func cloneReminder(r *reminder.Record) *reminder.Record {
	c := *r
	c.DeliveredAt = timePtr(r.DeliveredAt)
	return &c
}

func (s *Store) CreateReminder(_ context.Context, r *reminder.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(r.AccountID.String(), r.CycleID.String(), string(r.Type))
	if _, dup := s.reminderKeys[k]; dup {
		return tally.ErrReminderExists
	}
	s.reminderKeys[k] = struct{}{}
	s.reminders[r.ID.String()] = cloneReminder(r)
	return nil
}

func (s *Store) ListReminders(_ context.Context, opts reminder.ListOpts) ([]*reminder.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*reminder.Record, 0)
	for _, r := range s.reminders {
		if !opts.AccountID.IsNil() && r.AccountID != opts.AccountID {
			continue
		}
		if !opts.CycleID.IsNil() && r.CycleID != opts.CycleID {
			continue
		}
		if !opts.InvoiceID.IsNil() && r.InvoiceID != opts.InvoiceID {
			continue
		}
		result = append(result, cloneReminder(r))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Offset != result[j].Offset {
			return result[i].Offset < result[j].Offset
		}
		return result[i].RecordedAt.Before(result[j].RecordedAt)
	})
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) MarkReminderDelivered(_ context.Context, reminderID id.ReminderID, at time.Time, deliveryErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reminders[reminderID.String()]
	if !ok {
		return tally.ErrNotFound
	}
	r.DeliveryError = deliveryErr
	if deliveryErr == "" {
		r.DeliveredAt = &at
	}
	r.UpdatedAt = at
	return nil
}

// ==================== Lifecycle ====================

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return tally.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
