// Package cycle defines billing cycles and how their boundaries are computed.
package cycle

import (
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Cycle is a half-open window [Start, End) over which usage is aggregated.
// An account's cycles are contiguous: each cycle starts where the
// previous one ended.
type Cycle struct {
	types.Entity
	ID        id.CycleID   `json:"id"`
	AccountID id.AccountID `json:"account_id"`
	TierID    id.TierID    `json:"tier_id"`
	// PreviousID is the cycle this one continues; nil for an account's first cycle.
	PreviousID id.CycleID `json:"previous_id,omitempty"`
	Label      string     `json:"label"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	AnchorDay  int        `json:"anchor_day"`
	Status     Status     `json:"status"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// IsOpen reports whether the cycle is still accumulating usage.
func (c *Cycle) IsOpen() bool { return c.Status == StatusOpen }

// Contains reports whether t falls inside [Start, End).
func (c *Cycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// Due reports whether the cycle's scheduled end has passed at now.
func (c *Cycle) Due(now time.Time) bool {
	return c.IsOpen() && !now.Before(c.End)
}
