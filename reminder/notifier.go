package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Notification is the pre-formatted payload handed to the messaging
// collaborator. Tally never delivers messages itself.
type Notification struct {
	ReminderID   id.ReminderID `json:"reminder_id"`
	AccountID    id.AccountID  `json:"account_id"`
	AccountName  string        `json:"account_name"`
	InvoiceID    id.InvoiceID  `json:"invoice_id"`
	CycleID      id.CycleID    `json:"cycle_id"`
	Type         Type          `json:"type"`
	DueDate      time.Time     `json:"due_date"`
	DaysUntilDue int           `json:"days_until_due"`
	Amount       types.Money   `json:"amount"`
	Message      string        `json:"message"`
}

// Notifier hands notifications to whatever delivers them.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n *Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n *Notification) error { return f(ctx, n) }

// LogNotifier writes notifications to a logger. It is the default when no
// delivery collaborator is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n *Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("reminder",
		"account_id", n.AccountID.String(),
		"invoice_id", n.InvoiceID.String(),
		"type", string(n.Type),
		"days_until_due", n.DaysUntilDue,
		"message", n.Message,
	)
	return nil
}

// Message renders the human-readable text for a reminder.
func Message(t Type, accountName string, amount types.Money, due time.Time, daysUntilDue int) string {
	day := due.UTC().Format("Jan 2, 2006")
	switch t {
	case TypeFarAdvance, TypeNearAdvance:
		return fmt.Sprintf("Hi %s, your invoice of %s is due in %d days (%s).", accountName, amount, daysUntilDue, day)
	case TypeFinal:
		return fmt.Sprintf("Hi %s, your invoice of %s is due tomorrow (%s).", accountName, amount, day)
	case TypeIssued:
		return fmt.Sprintf("Hi %s, your invoice of %s is due today.", accountName, amount)
	case TypeGraceWarning:
		return fmt.Sprintf("Hi %s, your invoice of %s was due on %s and is now overdue. Service will be suspended if it remains unpaid.", accountName, amount, day)
	case TypeSuspensionWarning:
		return fmt.Sprintf("Hi %s, your invoice of %s has been unpaid since %s. Service is suspended until payment is received.", accountName, amount, day)
	default:
		return fmt.Sprintf("Hi %s, reminder about your invoice of %s due %s.", accountName, amount, day)
	}
}
