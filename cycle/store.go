package cycle

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

type Store interface {
	// CreateCycle stores an open cycle. It fails when the account already
	// has an open cycle.
	CreateCycle(ctx context.Context, c *Cycle) error
	GetCycle(ctx context.Context, cycleID id.CycleID) (*Cycle, error)
	GetOpenCycle(ctx context.Context, accountID id.AccountID) (*Cycle, error)
	// GetCycleByStart finds the account's cycle beginning exactly at start.
	GetCycleByStart(ctx context.Context, accountID id.AccountID, start time.Time) (*Cycle, error)
	// ListCycles returns an account's cycles ordered by start.
	ListCycles(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Cycle, error)
	// ListDueCycles returns open cycles whose end is at or before before.
	ListDueCycles(ctx context.Context, before time.Time, limit int) ([]*Cycle, error)
	// ListUninvoicedCycles returns closed cycles, closed at or before
	// closedBefore, that no standard invoice bills yet.
	ListUninvoicedCycles(ctx context.Context, closedBefore time.Time, limit int) ([]*Cycle, error)
	// CloseCycle marks an open cycle closed with the given end. It fails
	// when the cycle is no longer open, so only one closer can win.
	CloseCycle(ctx context.Context, cycleID id.CycleID, end, closedAt time.Time) error
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
