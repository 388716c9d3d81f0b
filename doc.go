// Package tally provides a usage metering and billing engine for Go
// applications.
//
// Tally is designed as a library, not a service. It consumes "a billable
// event happened" signals, prices them against versioned tiers and drives
// the invoice, reminder and suspension lifecycle of each account:
//
//   - Append-only usage events with idempotent replay
//   - Read-time aggregation with a memoized, stale-tolerant usage summary
//   - Contiguous billing cycles with a single open cycle per account
//   - Deterministic overage charges with a reproducible digest
//   - Pilot, founding and volume discounts in a fixed precedence
//   - Due-date relative reminders that are never sent twice
//   - An explicit subscription state machine with suspension gating
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/tally"
//	    "github.com/xraph/tally/store/postgres"
//	)
//
//	store := postgres.New(db)
//
//	engine := tally.New(store, tally.WithLogger(logger))
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop(ctx)
//
// # Core Concepts
//
// Tiers define the flat fee, included allowances and overage prices:
//
//	starter, err := engine.PublishTier(ctx, &tier.Definition{
//	    Name:      "starter",
//	    Currency:  "usd",
//	    FlatFee:   tally.USD(100000),
//	    Included:  map[meter.Category]int64{meter.CategoryQuery: 500},
//	    UnitPrice: map[meter.Category]tally.Money{meter.CategoryQuery: tally.USD(15)},
//	})
//
// Accounts subscribe to a tier by name. Each billing cycle binds the tier
// version that was current when it opened:
//
//	acct := &account.Account{Name: "Acme", Tier: "starter", Founding: true}
//	err := engine.CreateAccount(ctx, acct)
//
// Usage is recorded as events and counted when read:
//
//	err := engine.RecordUsage(ctx, &meter.UsageEvent{
//	    AccountID:      acct.ID,
//	    Category:       meter.CategoryQuery,
//	    Quantity:       1,
//	    IdempotencyKey: requestID,
//	})
//
// Invoices bill the usage of the cycle that just closed together with the
// flat fee of the cycle that just opened:
//
//	inv, err := engine.GenerateInvoice(ctx, acct.ID)
//	fmt.Println(inv.Summary)
//
// # Scheduling
//
// Start runs two jobs on a cron scheduler: a rollover pass that closes and
// invoices cycles whose end has passed, and a reminder pass that issues
// reminders, marks invoices overdue and moves unpaid accounts through
// grace, suspension and cancellation. Both are safe to run from several
// processes at once when the engine is given a shared lock:
//
//	engine := tally.New(store, tally.WithLocker(lock.NewRedis(rdb)))
//
// # Money
//
// All monetary calculations use integer minor units. Percentages and
// exchange rates go through shopspring/decimal and are rounded half away
// from zero.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	cyc_01h2xcejqtf2nbrexx3vqjhp41   // Cycle ID
//	inv_01h455vb4pex5vsknk084sn02q   // Invoice ID
package tally
