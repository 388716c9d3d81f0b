package meter

import (
	"time"

	"github.com/xraph/tally/id"
)

// Category is a billable usage dimension.
type Category string

const (
	CategoryQuery        Category = "query"
	CategoryDocument     Category = "document"
	CategoryPhoto        Category = "photo"
	CategoryStorageDelta Category = "storage_delta"
)

// Known returns the categories Tally prices out of the box, in a stable order.
func Known() []Category {
	return []Category{CategoryDocument, CategoryPhoto, CategoryQuery, CategoryStorageDelta}
}

// IsKnown reports whether c is one of Known.
func (c Category) IsKnown() bool {
	switch c {
	case CategoryQuery, CategoryDocument, CategoryPhoto, CategoryStorageDelta:
		return true
	}
	return false
}

// UsageEvent is a single billable action. Events are append-only.
type UsageEvent struct {
	ID             id.UsageEventID   `json:"id"`
	AccountID      id.AccountID      `json:"account_id"`
	Category       Category          `json:"category"`
	Quantity       int64             `json:"quantity"`
	Timestamp      time.Time         `json:"timestamp"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Source         string            `json:"source,omitempty"`
	RecordedAt     time.Time         `json:"recorded_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Counts is a per-category quantity total.
type Counts map[Category]int64

// Clone returns an independent copy of c.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
