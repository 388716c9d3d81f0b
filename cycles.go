package tally

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lock"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// dueBatch caps how many due cycles one rollover pass loads at a time.
const dueBatch = 100

// ──────────────────────────────────────────────────
// Opening
// ──────────────────────────────────────────────────

// OpenCycle opens a cycle for the account starting at start, bound to the
// latest version of the account's tier. It fails with ErrOpenCycleExists
// when the account already has an open cycle.
func (e *Engine) OpenCycle(ctx context.Context, accountID id.AccountID, start time.Time) (*cycle.Cycle, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Status == subscription.StateCancelled {
		return nil, &SubscriptionInactiveError{AccountID: acct.ID, Status: acct.Status}
	}

	start = start.UTC().Truncate(time.Millisecond)
	return e.openCycle(ctx, acct, start, start.Day(), id.Nil)
}

func (e *Engine) openCycle(ctx context.Context, acct *account.Account, start time.Time, anchorDay int, previous id.CycleID) (*cycle.Cycle, error) {
	def, err := e.store.GetLatestTier(ctx, acct.Tier)
	if err != nil {
		return nil, &ConfigurationError{AccountID: acct.ID, Tier: acct.Tier, Err: err}
	}

	c := &cycle.Cycle{
		Entity:     types.NewEntity(e.now()),
		ID:         id.NewCycleID(),
		AccountID:  acct.ID,
		TierID:     def.ID,
		PreviousID: previous,
		Label:      e.length.Label(start),
		Start:      start,
		End:        e.length.End(start, anchorDay),
		AnchorDay:  anchorDay,
		Status:     cycle.StatusOpen,
	}
	if err := e.store.CreateCycle(ctx, c); err != nil {
		return nil, err
	}

	e.logger.Debug("cycle opened",
		"account_id", acct.ID.String(),
		"cycle_id", c.ID.String(),
		"label", c.Label,
		"tier", def.Name,
		"tier_version", def.Version,
	)
	return c, nil
}

// openNext continues closed with a cycle starting at its end.
func (e *Engine) openNext(ctx context.Context, acct *account.Account, closed *cycle.Cycle) (*cycle.Cycle, error) {
	return e.openCycle(ctx, acct, closed.End, closed.AnchorDay, closed.ID)
}

// GetCycle retrieves a cycle by ID.
func (e *Engine) GetCycle(ctx context.Context, cycleID id.CycleID) (*cycle.Cycle, error) {
	return e.store.GetCycle(ctx, cycleID)
}

// GetOpenCycle returns the account's current cycle.
func (e *Engine) GetOpenCycle(ctx context.Context, accountID id.AccountID) (*cycle.Cycle, error) {
	return e.store.GetOpenCycle(ctx, accountID)
}

// ListCycles lists an account's cycles, oldest first.
func (e *Engine) ListCycles(ctx context.Context, accountID id.AccountID, opts cycle.ListOpts) ([]*cycle.Cycle, error) {
	return e.store.ListCycles(ctx, accountID, opts)
}

// ──────────────────────────────────────────────────
// Closing
// ──────────────────────────────────────────────────

// CloseCycle closes the account's current cycle and opens the next one,
// returning the closed cycle. A cycle closed before its scheduled end is
// truncated to the close time.
//
// When the close races another, the loser gets a *ConcurrentCloseConflict
// carrying the cycle the winner closed. A cycle opened by a rollover less
// than the minimum cycle age ago is treated the same way, so a retried
// close never closes the fresh cycle.
func (e *Engine) CloseCycle(ctx context.Context, accountID id.AccountID) (*cycle.Cycle, error) {
	var closed *cycle.Cycle
	err := e.withAccountLock(ctx, accountID, func() error {
		cur, err := e.store.GetOpenCycle(ctx, accountID)
		if err != nil {
			return err
		}
		if prev, ok := e.recentlyRolled(ctx, cur); ok {
			return &ConcurrentCloseConflict{Cycle: prev}
		}
		closed, _, err = e.closeCycleLocked(ctx, cur)
		return err
	})
	return closed, err
}

// CloseCycleByID closes a specific open cycle. It fails with a
// *ConcurrentCloseConflict when the cycle is already closed.
func (e *Engine) CloseCycleByID(ctx context.Context, cycleID id.CycleID) (*cycle.Cycle, error) {
	c, err := e.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	return e.closeCycle(ctx, c.ID, c.AccountID)
}

// closeCycle closes a known cycle under the account lock.
func (e *Engine) closeCycle(ctx context.Context, cycleID id.CycleID, accountID id.AccountID) (*cycle.Cycle, error) {
	var closed *cycle.Cycle
	err := e.withAccountLock(ctx, accountID, func() error {
		cur, err := e.store.GetCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if !cur.IsOpen() {
			return &ConcurrentCloseConflict{Cycle: cur}
		}
		closed, _, err = e.closeCycleLocked(ctx, cur)
		return err
	})
	return closed, err
}

// recentlyRolled returns the predecessor of cur when cur was opened by a
// close within the minimum cycle age.
func (e *Engine) recentlyRolled(ctx context.Context, cur *cycle.Cycle) (*cycle.Cycle, bool) {
	if cur.PreviousID.IsNil() || e.minCycleAge <= 0 || e.now().Sub(cur.CreatedAt) >= e.minCycleAge {
		return nil, false
	}
	prev, err := e.store.GetCycle(ctx, cur.PreviousID)
	if err != nil {
		return nil, false
	}
	return prev, true
}

// withAccountLock runs fn while holding the account's lease.
func (e *Engine) withAccountLock(ctx context.Context, accountID id.AccountID, fn func() error) error {
	lease, err := e.locker.Acquire(ctx, lock.AccountKey(accountID.String()), e.lockTTL)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			e.logger.Warn("release account lock", "account_id", accountID.String(), "error", rerr)
		}
	}()
	return fn()
}

// closeCycleLocked closes cur and opens its successor unless the account
// is cancelled. The caller holds the account lock; the store's status
// compare-and-swap still decides the winner across processes. Failing to
// open the successor does not undo the close; HealCycles repairs it.
func (e *Engine) closeCycleLocked(ctx context.Context, cur *cycle.Cycle) (*cycle.Cycle, *cycle.Cycle, error) {
	now := e.now()
	end := cur.End
	if now.Before(end) {
		end = now
	}
	if end.Before(cur.Start) {
		end = cur.Start
	}

	if err := e.store.CloseCycle(ctx, cur.ID, end, now); err != nil {
		if errors.Is(err, ErrCycleNotOpen) {
			winner, gerr := e.store.GetCycle(ctx, cur.ID)
			if gerr != nil {
				return nil, nil, gerr
			}
			return nil, nil, &ConcurrentCloseConflict{Cycle: winner}
		}
		return nil, nil, fmt.Errorf("close cycle %s: %w", cur.ID, err)
	}
	e.invalidate(cur.AccountID)

	closed := *cur
	closed.Status = cycle.StatusClosed
	closed.End = end
	closed.ClosedAt = &now
	closed.Touch(now)

	var next *cycle.Cycle
	acct, err := e.store.GetAccount(ctx, cur.AccountID)
	switch {
	case err != nil:
		e.logger.Error("next cycle not opened", "account_id", cur.AccountID.String(), "error", err)
	case acct.Status != subscription.StateCancelled:
		next, err = e.openNext(ctx, acct, &closed)
		if err != nil {
			e.logger.Error("next cycle not opened", "account_id", acct.ID.String(), "closed_cycle", closed.ID.String(), "error", err)
		}
	}

	e.logger.Info("cycle closed",
		"account_id", closed.AccountID.String(),
		"cycle_id", closed.ID.String(),
		"label", closed.Label,
		"end", closed.End,
	)
	e.plugins.EmitCycleClosed(ctx, &closed, next)
	return &closed, next, nil
}

// ──────────────────────────────────────────────────
// Maintenance
// ──────────────────────────────────────────────────

// RolloverDueCycles closes and invoices every open cycle whose scheduled
// end has passed. Cycles that fell several periods behind are caught up
// in the same pass. Closed cycles whose invoice failed on an earlier pass
// are invoiced first. It returns the number of cycles closed.
func (e *Engine) RolloverDueCycles(ctx context.Context) (int, error) {
	var (
		errs      MultiError
		processed int
		failed    = make(map[id.CycleID]bool)
	)

	if err := e.invoiceUninvoiced(ctx); err != nil {
		errs.Add(err)
	}

	for {
		due, err := e.store.ListDueCycles(ctx, e.now(), dueBatch)
		if err != nil {
			errs.Add(fmt.Errorf("list due cycles: %w", err))
			break
		}

		progressed := false
		for _, cur := range due {
			if failed[cur.ID] {
				continue
			}
			closed, err := e.closeCycle(ctx, cur.ID, cur.AccountID)
			if err != nil {
				if !errors.Is(err, ErrConflict) {
					errs.Add(err)
				}
				failed[cur.ID] = true
				continue
			}
			processed++
			progressed = true

			if _, err := e.invoiceCycle(ctx, closed); err != nil && !errors.Is(err, ErrInvoiceExists) {
				errs.Add(err)
			}
		}

		if !progressed || ctx.Err() != nil {
			break
		}
	}

	return processed, errs.Err()
}

// invoiceUninvoiced retries invoicing for closed cycles left without a
// standard invoice. Cycles closed within the minimum cycle age are left to
// the caller that closed them.
func (e *Engine) invoiceUninvoiced(ctx context.Context) error {
	pending, err := e.store.ListUninvoicedCycles(ctx, e.now().Add(-e.minCycleAge), dueBatch)
	if err != nil {
		return fmt.Errorf("list uninvoiced cycles: %w", err)
	}

	var errs MultiError
	for _, c := range pending {
		if ctx.Err() != nil {
			errs.Add(ctx.Err())
			break
		}
		inv, err := e.invoiceCycle(ctx, c)
		if err != nil {
			if !errors.Is(err, ErrInvoiceExists) {
				errs.Add(err)
			}
			continue
		}
		e.logger.Warn("invoice recovered for closed cycle",
			"account_id", c.AccountID.String(),
			"cycle_id", c.ID.String(),
			"invoice_id", inv.ID.String(),
		)
	}
	return errs.Err()
}

// HealCycles opens a cycle for every non-cancelled account left without
// one, continuing from its last cycle. It returns the number of accounts
// repaired.
func (e *Engine) HealCycles(ctx context.Context) (int, error) {
	var (
		errs   MultiError
		healed int
	)

	for offset := 0; ; offset += dueBatch {
		accts, err := e.store.ListAccounts(ctx, account.ListOpts{Limit: dueBatch, Offset: offset})
		if err != nil {
			return healed, fmt.Errorf("list accounts: %w", err)
		}

		for _, acct := range accts {
			if acct.Status == subscription.StateCancelled {
				continue
			}
			if _, err := e.store.GetOpenCycle(ctx, acct.ID); !errors.Is(err, ErrNoOpenCycle) {
				if err != nil {
					errs.Add(err)
				}
				continue
			}

			if err := e.heal(ctx, acct); err != nil {
				errs.Add(fmt.Errorf("heal %s: %w", acct.ID, err))
				continue
			}
			healed++
		}

		if len(accts) < dueBatch {
			break
		}
	}

	return healed, errs.Err()
}

func (e *Engine) heal(ctx context.Context, acct *account.Account) error {
	cycles, err := e.store.ListCycles(ctx, acct.ID, cycle.ListOpts{})
	if err != nil {
		return err
	}

	var c *cycle.Cycle
	if len(cycles) == 0 {
		start := startOfDay(e.now())
		c, err = e.openCycle(ctx, acct, start, start.Day(), id.Nil)
	} else {
		c, err = e.openNext(ctx, acct, cycles[len(cycles)-1])
	}
	if err != nil {
		return err
	}

	e.logger.Warn("cycle reopened", "account_id", acct.ID.String(), "cycle_id", c.ID.String(), "start", c.Start)
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
