// Package reminder defines the due-date-relative reminder schedule and the
// records that make reminder delivery idempotent.
package reminder

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

type Type string

const (
	TypeFarAdvance        Type = "far_advance"
	TypeNearAdvance       Type = "near_advance"
	TypeFinal             Type = "final"
	TypeIssued            Type = "issued"
	TypeGraceWarning      Type = "grace_warning"
	TypeSuspensionWarning Type = "suspension_warning"
)

// Offset fires a reminder Days after the due date (negative is before).
type Offset struct {
	Type Type `json:"type" mapstructure:"type" yaml:"type"`
	Days int  `json:"days" mapstructure:"days" yaml:"days"`
}

// Crossed reports whether the offset's threshold has been reached when the
// invoice is daysUntilDue calendar days from its due date.
func (o Offset) Crossed(daysUntilDue int) bool {
	return daysUntilDue <= -o.Days
}

// Schedule is an ordered set of offsets.
type Schedule []Offset

// DefaultSchedule is -7, -3, -1, 0, +3 and +7 days around the due date.
func DefaultSchedule() Schedule {
	return Schedule{
		{Type: TypeFarAdvance, Days: -7},
		{Type: TypeNearAdvance, Days: -3},
		{Type: TypeFinal, Days: -1},
		{Type: TypeIssued, Days: 0},
		{Type: TypeGraceWarning, Days: 3},
		{Type: TypeSuspensionWarning, Days: 7},
	}
}

// Validate rejects empty types, duplicate types and duplicate offsets.
func (s Schedule) Validate() error {
	var errs []error
	seen := make(map[Type]bool, len(s))
	days := make(map[int]bool, len(s))
	for _, o := range s {
		if o.Type == "" {
			errs = append(errs, errors.New("reminder type is required"))
			continue
		}
		if seen[o.Type] {
			errs = append(errs, fmt.Errorf("duplicate reminder type %q", o.Type))
		}
		if days[o.Days] {
			errs = append(errs, fmt.Errorf("duplicate reminder offset %d", o.Days))
		}
		seen[o.Type], days[o.Days] = true, true
	}
	return errors.Join(errs...)
}

// Sorted returns a copy ordered from earliest to latest offset.
func (s Schedule) Sorted() Schedule {
	out := append(Schedule(nil), s...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Days < out[j].Days })
	return out
}

// Crossed returns the offsets reached at daysUntilDue, earliest first.
func (s Schedule) Crossed(daysUntilDue int) Schedule {
	var out Schedule
	for _, o := range s.Sorted() {
		if o.Crossed(daysUntilDue) {
			out = append(out, o)
		}
	}
	return out
}

// Dates returns the calendar date each offset fires for dueDate.
func (s Schedule) Dates(dueDate time.Time) map[Type]time.Time {
	due := Day(dueDate)
	out := make(map[Type]time.Time, len(s))
	for _, o := range s {
		out[o.Type] = due.AddDate(0, 0, o.Days)
	}
	return out
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil returns whole UTC calendar days from now until due. It is
// negative once the due date has passed.
func DaysUntil(due, now time.Time) int {
	return int(Day(due).Sub(Day(now)).Hours() / 24)
}

// Record is the durable proof that a reminder was issued. At most one
// record exists per (account, cycle, type); it is written before the
// notification is handed off.
type Record struct {
	types.Entity
	ID            id.ReminderID `json:"id"`
	AccountID     id.AccountID  `json:"account_id"`
	CycleID       id.CycleID    `json:"cycle_id"`
	InvoiceID     id.InvoiceID  `json:"invoice_id"`
	Type          Type          `json:"type"`
	Offset        int           `json:"offset"`
	DueDate       time.Time     `json:"due_date"`
	RecordedAt    time.Time     `json:"recorded_at"`
	DeliveredAt   *time.Time    `json:"delivered_at,omitempty"`
	DeliveryError string        `json:"delivery_error,omitempty"`
}
