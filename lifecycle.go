package tally

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/tier"
	"github.com/xraph/tally/types"
)

// maxTransitionAttempts bounds the reload-and-retry loop around the status
// compare-and-swap.
const maxTransitionAttempts = 3

// ──────────────────────────────────────────────────
// Tier Management
// ──────────────────────────────────────────────────

// PublishTier stores a new version of a tier. Publishing pricing identical
// to the latest version is a no-op that returns the latest version.
// Existing cycles keep the version they were opened with.
func (e *Engine) PublishTier(ctx context.Context, d *tier.Definition) (*tier.Definition, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.Currency = strings.ToLower(d.Currency)
	if err := d.Validate(); err != nil {
		return nil, &ConfigurationError{Tier: d.Name, Err: err}
	}

	latest, err := e.store.GetLatestTier(ctx, d.Name)
	switch {
	case err == nil:
		if latest.SamePricing(d) {
			return latest, nil
		}
		d.Version = latest.Version + 1
	case errors.Is(err, ErrTierNotFound):
		d.Version = 1
	default:
		return nil, err
	}

	d.ID = id.NewTierID()
	d.Entity = types.NewEntity(e.now())
	if err := e.store.CreateTier(ctx, d); err != nil {
		return nil, err
	}

	e.logger.Info("tier published", "tier", d.Name, "version", d.Version, "flat_fee", d.FlatFee.String())
	return d, nil
}

// GetTier retrieves a specific tier version.
func (e *Engine) GetTier(ctx context.Context, tierID id.TierID) (*tier.Definition, error) {
	return e.store.GetTier(ctx, tierID)
}

// GetLatestTier retrieves the current version of a tier by name.
func (e *Engine) GetLatestTier(ctx context.Context, name string) (*tier.Definition, error) {
	return e.store.GetLatestTier(ctx, name)
}

// ListTiers lists all versions of a tier, or every tier when name is empty.
func (e *Engine) ListTiers(ctx context.Context, name string) ([]*tier.Definition, error) {
	return e.store.ListTiers(ctx, name)
}

// ──────────────────────────────────────────────────
// Account Management
// ──────────────────────────────────────────────────

// CreateAccount registers an account and opens its first cycle at the
// start of the current UTC day. Pilot accounts start in pilot, all others
// in trial.
func (e *Engine) CreateAccount(ctx context.Context, a *account.Account) error {
	if strings.TrimSpace(a.Name) == "" {
		return ValidationError{Field: "name", Message: "is required"}
	}
	if a.Tier == "" {
		return ValidationError{Field: "tier", Message: "is required"}
	}
	if _, err := e.store.GetLatestTier(ctx, a.Tier); err != nil {
		return &ConfigurationError{Tier: a.Tier, Err: err}
	}

	now := e.now()
	if a.ID.IsNil() {
		a.ID = id.NewAccountID()
	}
	a.Entity = types.NewEntity(now)
	a.Currency = strings.ToLower(a.Currency)
	a.Status = subscription.Initial(a.Pilot)
	a.StatusChangedAt = now

	if err := e.store.CreateAccount(ctx, a); err != nil {
		return err
	}

	start := startOfDay(now)
	if _, err := e.openCycle(ctx, a, start, start.Day(), id.Nil); err != nil {
		return fmt.Errorf("open first cycle: %w", err)
	}

	e.logger.Info("account created",
		"account_id", a.ID.String(),
		"tier", a.Tier,
		"status", string(a.Status),
		"founding", a.Founding,
	)
	e.plugins.EmitAccountCreated(ctx, a)
	return nil
}

// GetAccount retrieves an account by ID.
func (e *Engine) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return e.store.GetAccount(ctx, accountID)
}

// ListAccounts lists accounts.
func (e *Engine) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	return e.store.ListAccounts(ctx, opts)
}

// UpdateAccount persists profile changes. Tier changes take effect from
// the next cycle. Status is only changed through lifecycle events.
func (e *Engine) UpdateAccount(ctx context.Context, a *account.Account) error {
	a.Currency = strings.ToLower(a.Currency)
	a.Touch(e.now())
	return e.store.UpdateAccount(ctx, a)
}

// ConvertPilot ends an account's pilot. Its next invoice is billed at the
// regular price.
func (e *Engine) ConvertPilot(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Status != subscription.StatePilot {
		return nil, fmt.Errorf("%w: account %s is %s, not pilot", ErrInvalidTransition, acct.ID, acct.Status)
	}

	acct.Pilot = false
	if err := e.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return e.transition(ctx, accountID, subscription.EventPilotConverted)
}

// CancelAccount cancels an account and issues its final invoice for the
// usage of the open cycle. No further cycles are opened. The account and
// its history are kept.
func (e *Engine) CancelAccount(ctx context.Context, accountID id.AccountID) (*account.Account, *invoice.Invoice, error) {
	return e.cancel(ctx, accountID, subscription.EventCancel)
}

func (e *Engine) cancel(ctx context.Context, accountID id.AccountID, ev subscription.Event) (*account.Account, *invoice.Invoice, error) {
	acct, err := e.transition(ctx, accountID, ev)
	if err != nil {
		return nil, nil, err
	}

	var closed *cycle.Cycle
	err = e.withAccountLock(ctx, accountID, func() error {
		cur, err := e.store.GetOpenCycle(ctx, accountID)
		if err != nil {
			return err
		}
		closed, _, err = e.closeCycleLocked(ctx, cur)
		return err
	})
	if errors.Is(err, ErrNoOpenCycle) {
		return acct, nil, nil
	}
	if err != nil {
		return acct, nil, err
	}
	inv, err := e.invoiceCycle(ctx, closed)
	if err != nil {
		return acct, nil, err
	}
	return acct, inv, nil
}

// transition applies a lifecycle event to the stored account status.
// Events that leave the status unchanged succeed without a write. The
// status compare-and-swap is retried against a fresh read on conflict.
func (e *Engine) transition(ctx context.Context, accountID id.AccountID, ev subscription.Event) (*account.Account, error) {
	var lastErr error
	for range maxTransitionAttempts {
		acct, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}

		from := acct.Status
		to, err := subscription.Next(from, ev)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		if to == from {
			return acct, nil
		}

		now := e.now()
		if err := e.store.UpdateAccountStatus(ctx, acct.ID, from, to, now); err != nil {
			if errors.Is(err, ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		acct.Status = to
		acct.StatusChangedAt = now
		acct.Touch(now)

		e.logger.Info("account status changed",
			"account_id", acct.ID.String(),
			"from", string(from),
			"to", string(to),
			"event", string(ev),
		)
		e.plugins.EmitStatusChanged(ctx, acct, from, to, ev)
		return acct, nil
	}
	return nil, lastErr
}
