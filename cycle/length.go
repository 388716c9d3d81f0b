package cycle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Length is how long a billing cycle runs. Exactly one of Months and Days
// is set. Monthly cycles end on the account's anchor day of the following
// month, clamped to that month's length.
type Length struct {
	Months int
	Days   int
}

// Monthly is the default calendar-month cycle length.
var Monthly = Length{Months: 1}

// ParseLength accepts "monthly" (or the empty string) and "<n>d".
func ParseLength(s string) (Length, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "monthly", "month", "1m":
		return Monthly, nil
	}
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil || days <= 0 {
			return Length{}, fmt.Errorf("cycle: invalid length %q", s)
		}
		return Length{Days: days}, nil
	}
	return Length{}, fmt.Errorf("cycle: invalid length %q", s)
}

func (l Length) String() string {
	if l.Days > 0 {
		return strconv.Itoa(l.Days) + "d"
	}
	return "monthly"
}

// End returns the boundary that closes a cycle starting at start.
func (l Length) End(start time.Time, anchorDay int) time.Time {
	start = start.UTC()
	if l.Days > 0 {
		return start.AddDate(0, 0, l.Days)
	}

	// First anchor boundary (midnight UTC) strictly after start.
	y, m, _ := start.Date()
	b := anchorIn(y, m, anchorDay)
	for !b.After(start) {
		m++
		b = anchorIn(y, m, anchorDay)
	}
	for i := 1; i < l.Months; i++ {
		m++
		b = anchorIn(y, m, anchorDay)
	}
	return b
}

// Label names a cycle starting at start.
func (l Length) Label(start time.Time) string {
	if l.Days > 0 {
		return start.UTC().Format("2006-01-02")
	}
	return start.UTC().Format("2006-01")
}

func anchorIn(y int, m time.Month, anchorDay int) time.Time {
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	day := anchorDay
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return first.AddDate(0, 0, day-1)
}
