package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/tally/id"
)

var kinds = []struct {
	prefix  id.Prefix
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
}{
	{id.PrefixAccount, id.NewAccountID, id.ParseAccountID},
	{id.PrefixCycle, id.NewCycleID, id.ParseCycleID},
	{id.PrefixUsageEvent, id.NewUsageEventID, id.ParseUsageEventID},
	{id.PrefixTier, id.NewTierID, id.ParseTierID},
	{id.PrefixInvoice, id.NewInvoiceID, id.ParseInvoiceID},
	{id.PrefixLineItem, id.NewLineItemID, id.ParseLineItemID},
	{id.PrefixReminder, id.NewReminderID, id.ParseReminderID},
}

func TestKinds(t *testing.T) {
	if len(kinds) != len(id.Prefixes()) {
		t.Fatalf("table covers %d kinds, package has %d", len(kinds), len(id.Prefixes()))
	}

	for i, k := range kinds {
		t.Run(string(k.prefix), func(t *testing.T) {
			got := k.newFn()
			if !strings.HasPrefix(got.String(), string(k.prefix)+"_") {
				t.Fatalf("got %q, want prefix %q", got, k.prefix)
			}

			parsed, err := k.parseFn(got.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if parsed.String() != got.String() {
				t.Errorf("parsed %q, want %q", parsed, got)
			}

			other := kinds[(i+1)%len(kinds)].newFn()
			if _, err := k.parseFn(other.String()); err == nil {
				t.Errorf("parsing %q as %s succeeded", other, k.prefix)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{"", "acct", "acct_notbase32!", "ACCT_01h2xcejqtf2nbrexx3vqjhp41"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) succeeded", s)
		}
	}
}

func TestParseOptional(t *testing.T) {
	got, err := id.ParseOptional("", id.PrefixCycle)
	if err != nil || !got.IsNil() {
		t.Fatalf("ParseOptional(\"\") = %v, %v; want Nil", got, err)
	}

	c := id.NewCycleID()
	got, err = id.ParseOptional(c.String(), id.PrefixCycle)
	if err != nil || got.String() != c.String() {
		t.Fatalf("ParseOptional = %v, %v; want %v", got, err, c)
	}

	if _, err := id.ParseOptional(c.String(), id.PrefixInvoice); err == nil {
		t.Error("wrong kind accepted")
	}
}

func TestNil(t *testing.T) {
	var i id.ID
	if !i.IsNil() || i.String() != "" || i.Prefix() != "" {
		t.Errorf("zero ID: nil=%v string=%q prefix=%q", i.IsNil(), i.String(), i.Prefix())
	}
	if !id.Nil.IsNil() {
		t.Error("Nil is not nil")
	}
}

func TestJSON(t *testing.T) {
	type doc struct {
		Account id.AccountID `json:"account"`
		Parent  id.CycleID   `json:"parent"`
	}
	in := doc{Account: id.NewAccountID()}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"parent":""`) {
		t.Errorf("nil id marshalled as %s", data)
	}

	var out doc
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Account.String() != in.Account.String() || !out.Parent.IsNil() {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
}

func TestValueScan(t *testing.T) {
	c := id.NewCycleID()

	val, err := c.Value()
	if err != nil {
		t.Fatal(err)
	}
	var scanned id.ID
	if err := scanned.Scan(val); err != nil || scanned.String() != c.String() {
		t.Fatalf("Scan(%v) = %v, %v", val, scanned, err)
	}
	if err := scanned.Scan([]byte(c.String())); err != nil || scanned.String() != c.String() {
		t.Fatalf("Scan(bytes) = %v, %v", scanned, err)
	}

	val, err = id.Nil.Value()
	if err != nil || val != nil {
		t.Fatalf("Nil.Value() = %v, %v; want NULL", val, err)
	}
	for _, src := range []any{nil, "", []byte{}} {
		if err := scanned.Scan(src); err != nil || !scanned.IsNil() {
			t.Errorf("Scan(%#v) = %v, %v; want Nil", src, scanned, err)
		}
	}

	if err := scanned.Scan(42); err == nil {
		t.Error("Scan(int) succeeded")
	}
}
