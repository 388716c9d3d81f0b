// Package id defines the TypeID-based identifiers of Tally entities.
//
// An ID is "prefix_suffix": the prefix names the entity kind and the
// suffix is a UUIDv7, so IDs of one kind sort by creation time.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the entity kind encoded in an ID.
type Prefix string

const (
	PrefixAccount    Prefix = "acct"
	PrefixCycle      Prefix = "cyc"
	PrefixUsageEvent Prefix = "uevt"
	PrefixTier       Prefix = "tier"
	PrefixInvoice    Prefix = "inv"
	PrefixLineItem   Prefix = "li"
	PrefixReminder   Prefix = "rmd"
)

// Prefixes lists every entity prefix.
func Prefixes() []Prefix {
	return []Prefix{
		PrefixAccount, PrefixCycle, PrefixUsageEvent, PrefixTier,
		PrefixInvoice, PrefixLineItem, PrefixReminder,
	}
}

// New generates an ID of this kind. It panics on a malformed prefix,
// which only a programming error can produce.
func (p Prefix) New() ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", p, err))
	}
	return ID{tid: tid, set: true}
}

// Parse parses s and requires it to be of this kind.
func (p Prefix) Parse(s string) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != p {
		return Nil, fmt.Errorf("id: %q is a %s id, want %s", s, got, p)
	}
	return parsed, nil
}

// ID identifies any Tally entity. The zero value is Nil.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the absent ID. It stores as NULL and marshals as "".
var Nil ID

var errEmpty = errors.New("empty string")

// Parse parses an ID of any kind.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: %w", errEmpty)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix parses s and requires the expected kind.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	return expected.Parse(s)
}

// ParseOptional is ParseWithPrefix with "" mapped to Nil, for nullable
// references such as the flat-fee cycle of a final invoice.
func ParseOptional(s string, expected Prefix) (ID, error) {
	if s == "" {
		return Nil, nil
	}
	return expected.Parse(s)
}

// Entity kinds share one ID type; the aliases document intent at call sites.
type (
	AccountID    = ID
	CycleID      = ID
	UsageEventID = ID
	TierID       = ID
	InvoiceID    = ID
	LineItemID   = ID
	ReminderID   = ID
)

func NewAccountID() ID    { return PrefixAccount.New() }
func NewCycleID() ID      { return PrefixCycle.New() }
func NewUsageEventID() ID { return PrefixUsageEvent.New() }
func NewTierID() ID       { return PrefixTier.New() }
func NewInvoiceID() ID    { return PrefixInvoice.New() }
func NewLineItemID() ID   { return PrefixLineItem.New() }
func NewReminderID() ID   { return PrefixReminder.New() }

func ParseAccountID(s string) (ID, error)    { return PrefixAccount.Parse(s) }
func ParseCycleID(s string) (ID, error)      { return PrefixCycle.Parse(s) }
func ParseUsageEventID(s string) (ID, error) { return PrefixUsageEvent.Parse(s) }
func ParseTierID(s string) (ID, error)       { return PrefixTier.Parse(s) }
func ParseInvoiceID(s string) (ID, error)    { return PrefixInvoice.Parse(s) }
func ParseLineItemID(s string) (ID, error)   { return PrefixLineItem.Parse(s) }
func ParseReminderID(s string) (ID, error)   { return PrefixReminder.Parse(s) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the entity kind, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.set }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil stores as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
