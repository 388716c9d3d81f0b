package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountCreated       = "account.created"
	ActionAccountStatusChanged = "account.status_changed"
	ActionAccountSuspended     = "account.suspended"
	ActionAccountCancelled     = "account.cancelled"

	// Usage actions
	ActionUsageRejected   = "usage.rejected"
	ActionUsageStale      = "usage.stale"
	ActionCycleClosed     = "cycle.closed"
	ActionChargeFlagged   = "charge.flagged"
	ActionReminderSent    = "reminder.sent"
	ActionReminderFailed  = "reminder.failed"
	ActionSchedulerFailed = "scheduler.failed"

	// Invoice actions
	ActionInvoiceGenerated   = "invoice.generated"
	ActionInvoiceCompensated = "invoice.compensated"
	ActionInvoicePaid        = "invoice.paid"
	ActionInvoiceOverdue     = "invoice.overdue"
	ActionInvoiceFailed      = "invoice.failed"
)

// Resource constants for audit events.
const (
	ResourceAccount   = "account"
	ResourceUsage     = "usage"
	ResourceCycle     = "cycle"
	ResourceInvoice   = "invoice"
	ResourceReminder  = "reminder"
	ResourceScheduler = "scheduler"
)

// Category constants for audit events.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
	CategoryPayment      = "payment"
	CategoryOperations   = "operations"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
