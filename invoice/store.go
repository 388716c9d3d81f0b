package invoice

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

type Store interface {
	// CreateInvoice stores an invoice. A second standard invoice for the
	// same (account, cycle) is rejected.
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	// GetInvoiceByCycle returns the standard invoice billing usage for cycleID.
	GetInvoiceByCycle(ctx context.Context, accountID id.AccountID, cycleID id.CycleID) (*Invoice, error)
	ListInvoices(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Invoice, error)
	// ListUnpaidInvoices returns pending and overdue invoices across all
	// accounts ordered by due date.
	ListUnpaidInvoices(ctx context.Context, limit int) ([]*Invoice, error)
	// MarkInvoicePaid settles a pending or overdue invoice.
	MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error
	// MarkInvoiceOverdue moves a pending invoice to overdue.
	MarkInvoiceOverdue(ctx context.Context, invID id.InvoiceID) error
}

type ListOpts struct {
	Status Status
	Kind   Kind
	Limit  int
	Offset int
}
