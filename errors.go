package tally

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/subscription"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("tally: not found")
	ErrAlreadyExists = errors.New("tally: already exists")
	ErrInvalidInput  = errors.New("tally: invalid input")
	ErrConflict      = errors.New("tally: concurrent modification")

	// Account errors
	ErrAccountNotFound   = errors.New("tally: account not found")
	ErrInvalidTransition = errors.New("tally: invalid status transition")

	// Tier errors
	ErrTierNotFound = errors.New("tally: tier not found")

	// Cycle errors
	ErrCycleNotFound   = errors.New("tally: cycle not found")
	ErrNoOpenCycle     = errors.New("tally: account has no open cycle")
	ErrOpenCycleExists = errors.New("tally: account already has an open cycle")
	ErrCycleNotOpen    = errors.New("tally: cycle is not open")
	ErrCycleNotClosed  = errors.New("tally: cycle is not closed")

	// Metering errors
	ErrInvalidQuantity = errors.New("tally: invalid usage quantity")
	ErrDuplicateEvent  = errors.New("tally: duplicate usage event")

	// Invoice errors
	ErrInvoiceNotFound   = errors.New("tally: invoice not found")
	ErrInvoiceExists     = errors.New("tally: invoice already exists for cycle")
	ErrInvoiceNotPayable = errors.New("tally: invoice is not payable")

	// Reminder errors
	ErrReminderExists = errors.New("tally: reminder already recorded")

	// Store errors
	ErrStoreNotReady = errors.New("tally: store not ready")
	ErrStoreClosed   = errors.New("tally: store is closed")
)

// ConfigurationError reports a missing or invalid tier or engine setting.
// It is fatal for the affected account until the configuration is fixed.
type ConfigurationError struct {
	AccountID id.AccountID
	Tier      string
	Err       error
}

func (e *ConfigurationError) Error() string {
	switch {
	case !e.AccountID.IsNil():
		return fmt.Sprintf("tally: configuration error for account %s (tier %q): %v", e.AccountID, e.Tier, e.Err)
	case e.Tier != "":
		return fmt.Sprintf("tally: configuration error for tier %q: %v", e.Tier, e.Err)
	default:
		return fmt.Sprintf("tally: configuration error: %v", e.Err)
	}
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DuplicateInvoiceError is returned when a cycle has already been invoiced.
// Existing is the invoice that was issued first.
type DuplicateInvoiceError struct {
	Existing *invoice.Invoice
}

func (e *DuplicateInvoiceError) Error() string {
	if e.Existing == nil {
		return ErrInvoiceExists.Error()
	}
	return fmt.Sprintf("tally: cycle %s already invoiced as %s", e.Existing.CycleID, e.Existing.ID)
}

func (e *DuplicateInvoiceError) Is(target error) bool { return target == ErrInvoiceExists }

// SubscriptionInactiveError rejects billable actions for suspended or
// cancelled accounts.
type SubscriptionInactiveError struct {
	AccountID id.AccountID
	Status    subscription.State
}

func (e *SubscriptionInactiveError) Error() string {
	return fmt.Sprintf("tally: service suspended: account %s is %s", e.AccountID, e.Status)
}

// StaleAggregationWarning accompanies a usage summary served from the last
// known snapshot because a fresh aggregation failed. The counts returned
// with it are best effort.
type StaleAggregationWarning struct {
	AccountID  id.AccountID
	CycleID    id.CycleID
	ComputedAt time.Time
	Cause      error
}

func (e *StaleAggregationWarning) Error() string {
	return fmt.Sprintf("tally: stale usage for account %s (computed %s): %v",
		e.AccountID, e.ComputedAt.UTC().Format(time.RFC3339), e.Cause)
}

func (e *StaleAggregationWarning) Unwrap() error { return e.Cause }

// ConcurrentCloseConflict is returned to the losing side of a racing cycle
// close. Cycle is the cycle the winner closed.
type ConcurrentCloseConflict struct {
	Cycle *cycle.Cycle
}

func (e *ConcurrentCloseConflict) Error() string {
	if e.Cycle == nil {
		return "tally: cycle closed concurrently"
	}
	return fmt.Sprintf("tally: cycle %s closed concurrently", e.Cycle.ID)
}

func (e *ConcurrentCloseConflict) Is(target error) bool { return target == ErrConflict }

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tally: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "tally: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("tally: %d errors occurred (first: %v)", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Err returns nil when nothing was collected, else e.
func (e MultiError) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTierNotFound) ||
		errors.Is(err, ErrCycleNotFound) ||
		errors.Is(err, ErrNoOpenCycle) ||
		errors.Is(err, ErrInvoiceNotFound)
}

// IsInactive reports whether err rejected a billable action because the
// account is suspended or cancelled.
func IsInactive(err error) bool {
	var e *SubscriptionInactiveError
	return errors.As(err, &e)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrConflict)
}
