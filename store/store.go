// Package store defines the aggregate persistence interface implemented by
// the memory, SQLite, PostgreSQL and MongoDB backends.
package store

import (
	"context"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/tier"
)

// Store is the unified storage interface for all Tally entities. Each
// entity package owns its sub-interface; method names are prefixed with
// the entity so they compose without conflicts.
type Store interface {
	account.Store
	tier.Store
	cycle.Store
	meter.Store
	invoice.Store
	reminder.Store

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
