package types

import "time"

// Entity carries the bookkeeping timestamps shared by every persisted
// Tally record. Timestamps are always UTC.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity stamps both timestamps with at.
func NewEntity(at time.Time) Entity {
	at = at.UTC()
	return Entity{CreatedAt: at, UpdatedAt: at}
}

// Touch moves UpdatedAt forward to at.
func (e *Entity) Touch(at time.Time) {
	e.UpdatedAt = at.UTC()
}
