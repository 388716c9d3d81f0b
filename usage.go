package tally

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/xraph/tally/charge"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/tier"
)

// aggregateTimeout bounds a shared recomputation independently of the
// callers waiting on it.
const aggregateTimeout = 30 * time.Second

// Snapshot is the usage counted for one cycle window.
type Snapshot struct {
	AccountID  id.AccountID `json:"account_id"`
	CycleID    id.CycleID   `json:"cycle_id"`
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
	Counts     meter.Counts `json:"counts"`
	ComputedAt time.Time    `json:"computed_at"`
	Stale      bool         `json:"stale"`
}

func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.Counts = s.Counts.Clone()
	return &out
}

// UsageSummary is the current cycle's usage priced against its tier.
type UsageSummary struct {
	AccountID  id.AccountID             `json:"account_id"`
	Cycle      *cycle.Cycle             `json:"cycle"`
	Tier       string                   `json:"tier"`
	TierID     id.TierID                `json:"tier_id"`
	Counts     meter.Counts             `json:"counts"`
	Included   map[meter.Category]int64 `json:"included"`
	Overage    map[meter.Category]int64 `json:"overage"`
	Charges    charge.Result            `json:"charges"`
	ComputedAt time.Time                `json:"computed_at"`
	Stale      bool                     `json:"stale"`
}

// ──────────────────────────────────────────────────
// Recording
// ──────────────────────────────────────────────────

// RecordUsage appends a usage event. Events for suspended or cancelled
// accounts are rejected with *SubscriptionInactiveError. Replaying an
// event with the same idempotency key succeeds without recording it twice.
func (e *Engine) RecordUsage(ctx context.Context, ev *meter.UsageEvent) error {
	if ev.AccountID.IsNil() {
		return ValidationError{Field: "account_id", Message: "is required"}
	}
	if ev.Category == "" {
		return ValidationError{Field: "category", Message: "is required"}
	}
	if ev.Quantity < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, ev.Quantity)
	}

	acct, err := e.store.GetAccount(ctx, ev.AccountID)
	if err != nil {
		return err
	}
	if !acct.Status.AcceptsUsage() {
		rejected := &SubscriptionInactiveError{AccountID: acct.ID, Status: acct.Status}
		e.plugins.EmitUsageRejected(ctx, ev, rejected)
		return rejected
	}

	now := e.now()
	if ev.ID.IsNil() {
		ev.ID = id.NewUsageEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	ev.Timestamp = ev.Timestamp.UTC().Truncate(time.Millisecond)
	ev.RecordedAt = now

	if err := e.store.AppendUsage(ctx, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			e.logger.Debug("duplicate usage event ignored",
				"account_id", ev.AccountID.String(),
				"idempotency_key", ev.IdempotencyKey,
			)
			return nil
		}
		return fmt.Errorf("record usage: %w", err)
	}

	e.invalidate(ev.AccountID)
	e.plugins.EmitUsageRecorded(ctx, ev)
	return nil
}

// ──────────────────────────────────────────────────
// Aggregation
// ──────────────────────────────────────────────────

// generation returns the account's snapshot generation counter. Every
// append bumps it, which orphans all memoized snapshots of the account.
func (e *Engine) generation(accountID id.AccountID) *atomic.Uint64 {
	v, _ := e.generations.LoadOrStore(accountID.String(), new(atomic.Uint64))
	return v.(*atomic.Uint64) //nolint:errcheck // only *atomic.Uint64 is stored
}

func (e *Engine) invalidate(accountID id.AccountID) {
	e.generation(accountID).Add(1)
}

func snapshotKey(c *cycle.Cycle) string {
	return c.AccountID.String() + "/" + c.ID.String()
}

// Counts returns the usage recorded in c's window. Results are memoized
// per cycle until the next append for the account. When a fresh count
// cannot be produced within the summary timeout, the last known snapshot
// is returned with Stale set, together with a *StaleAggregationWarning.
func (e *Engine) Counts(ctx context.Context, c *cycle.Cycle) (*Snapshot, error) {
	base := snapshotKey(c)
	key := base + "@" + strconv.FormatUint(e.generation(c.AccountID).Load(), 10)

	if snap, ok := e.snapshots.Get(key); ok {
		return snap.clone(), nil
	}

	ch := e.flights.DoChan(key, func() (any, error) {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), aggregateTimeout)
		defer cancel()

		counts, err := e.store.AggregateUsage(actx, c.AccountID, c.Start, c.End)
		if err != nil {
			return nil, err
		}
		snap := &Snapshot{
			AccountID:  c.AccountID,
			CycleID:    c.ID,
			Start:      c.Start,
			End:        c.End,
			Counts:     counts,
			ComputedAt: e.now(),
		}
		e.snapshots.Add(key, snap)
		e.lastKnown.Add(base, snap)
		return snap, nil
	})

	timer := time.NewTimer(e.summaryTimeout)
	defer timer.Stop()

	var cause error
	select {
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(*Snapshot).clone(), nil //nolint:errcheck // only *Snapshot is returned
		}
		cause = res.Err
	case <-timer.C:
		cause = fmt.Errorf("aggregation exceeded %s", e.summaryTimeout)
	case <-ctx.Done():
		cause = ctx.Err()
	}

	last, ok := e.lastKnown.Get(base)
	if !ok {
		return nil, fmt.Errorf("aggregate usage for cycle %s: %w", c.ID, cause)
	}

	stale := last.clone()
	stale.Stale = true
	e.logger.Warn("serving stale usage snapshot",
		"account_id", c.AccountID.String(),
		"cycle_id", c.ID.String(),
		"computed_at", last.ComputedAt,
		"error", cause,
	)
	e.plugins.EmitStaleAggregation(ctx, c.AccountID, c.ID, cause)
	return stale, &StaleAggregationWarning{
		AccountID:  c.AccountID,
		CycleID:    c.ID,
		ComputedAt: last.ComputedAt,
		Cause:      cause,
	}
}

// GetUsageSummary prices the open cycle's usage against the cycle's tier.
// A *StaleAggregationWarning is returned alongside a usable summary when
// the counts are best effort; check for it with errors.As.
//
// When the cycle or tier cannot be read, the cycle and tier of the last
// summary served for the account stand in for them and the summary is
// marked stale.
func (e *Engine) GetUsageSummary(ctx context.Context, accountID id.AccountID) (*UsageSummary, error) {
	cur, def, err := e.readBasis(ctx, accountID)
	if err != nil {
		last, ok := e.lastBasis.Get(accountID.String())
		if !ok || IsNotFound(err) {
			return nil, err
		}
		return e.summaryFrom(ctx, last, err)
	}
	e.lastBasis.Add(accountID.String(), summaryBasis{cycle: cur, tier: def})

	snap, warn := e.Counts(ctx, cur)
	if snap == nil {
		return nil, warn
	}

	return summarize(cur, def, snap), warn
}

// summaryBasis is the cycle and tier a usage summary was priced with.
type summaryBasis struct {
	cycle *cycle.Cycle
	tier  *tier.Definition
}

func (e *Engine) readBasis(ctx context.Context, accountID id.AccountID) (*cycle.Cycle, *tier.Definition, error) {
	cur, err := e.store.GetOpenCycle(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	def, err := e.store.GetTier(ctx, cur.TierID)
	if errors.Is(err, ErrTierNotFound) {
		return nil, nil, &ConfigurationError{AccountID: accountID, Err: err}
	}
	if err != nil {
		return nil, nil, err
	}
	return cur, def, nil
}

// summaryFrom prices the remembered cycle after the store could not be
// read. The result is always stale: the cycle may have rolled since.
func (e *Engine) summaryFrom(ctx context.Context, b summaryBasis, cause error) (*UsageSummary, error) {
	c := *b.cycle
	snap, warn := e.Counts(ctx, &c)
	if snap == nil {
		return nil, fmt.Errorf("usage summary: %w", cause)
	}
	if warn == nil {
		snap.Stale = true
		warn = &StaleAggregationWarning{
			AccountID:  c.AccountID,
			CycleID:    c.ID,
			ComputedAt: snap.ComputedAt,
			Cause:      cause,
		}
		e.logger.Warn("usage summary priced with last known cycle",
			"account_id", c.AccountID.String(),
			"cycle_id", c.ID.String(),
			"error", cause,
		)
		e.plugins.EmitStaleAggregation(ctx, c.AccountID, c.ID, cause)
	}
	return summarize(&c, b.tier, snap), warn
}

func summarize(c *cycle.Cycle, def *tier.Definition, snap *Snapshot) *UsageSummary {
	res := charge.Calculate(snap.Counts, def)
	s := &UsageSummary{
		AccountID:  c.AccountID,
		Cycle:      c,
		Tier:       def.Name,
		TierID:     def.ID,
		Counts:     snap.Counts,
		Included:   make(map[meter.Category]int64, len(res.Lines)),
		Overage:    make(map[meter.Category]int64, len(res.Lines)),
		Charges:    res,
		ComputedAt: snap.ComputedAt,
		Stale:      snap.Stale,
	}
	for _, l := range res.Lines {
		s.Included[l.Category] = l.Included
		s.Overage[l.Category] = l.Overage
	}
	return s
}

// QueryUsage lists raw usage events for an account.
func (e *Engine) QueryUsage(ctx context.Context, accountID id.AccountID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	return e.store.QueryUsage(ctx, accountID, opts)
}
