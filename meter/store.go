package meter

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

type Store interface {
	// AppendUsage stores an event. An event whose idempotency key was
	// already stored for the account is rejected with a duplicate error.
	AppendUsage(ctx context.Context, e *UsageEvent) error
	// AggregateUsage sums quantities per category over [start, end).
	AggregateUsage(ctx context.Context, accountID id.AccountID, start, end time.Time) (Counts, error)
	QueryUsage(ctx context.Context, accountID id.AccountID, opts QueryOpts) ([]*UsageEvent, error)
}

type QueryOpts struct {
	Category Category
	Start    time.Time
	End      time.Time
	Limit    int
	Offset   int
}
