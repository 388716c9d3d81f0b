package reminder

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

type Store interface {
	// CreateReminder stores a record, failing when one already exists for
	// the same (account, cycle, type).
	CreateReminder(ctx context.Context, r *Record) error
	ListReminders(ctx context.Context, opts ListOpts) ([]*Record, error)
	// MarkReminderDelivered records the outcome of handing the
	// notification off. deliveryErr is empty on success.
	MarkReminderDelivered(ctx context.Context, reminderID id.ReminderID, at time.Time, deliveryErr string) error
}

type ListOpts struct {
	AccountID id.AccountID
	CycleID   id.CycleID
	InvoiceID id.InvoiceID
	Limit     int
	Offset    int
}
