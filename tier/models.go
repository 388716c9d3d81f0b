// Package tier defines versioned pricing tiers. A billing cycle binds the
// tier version that was current when it opened, so publishing a new
// version never changes cycles that already exist.
package tier

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/types"
)

type Definition struct {
	types.Entity
	ID        id.TierID                      `json:"id"`
	Name      string                         `json:"name"`
	Version   int                            `json:"version"`
	Currency  string                         `json:"currency"`
	FlatFee   types.Money                    `json:"flat_fee"`
	Included  map[meter.Category]int64       `json:"included"`
	UnitPrice map[meter.Category]types.Money `json:"unit_price"`
}

// Categories returns every category the tier mentions, sorted.
func (d *Definition) Categories() []meter.Category {
	seen := make(map[meter.Category]struct{}, len(d.Included)+len(d.UnitPrice))
	for c := range d.Included {
		seen[c] = struct{}{}
	}
	for c := range d.UnitPrice {
		seen[c] = struct{}{}
	}
	out := make([]meter.Category, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks the definition is internally consistent.
func (d *Definition) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.Currency == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	if d.FlatFee.IsNegative() {
		errs = append(errs, errors.New("flat fee must not be negative"))
	}
	if d.FlatFee.Currency != d.Currency {
		errs = append(errs, fmt.Errorf("flat fee currency %q does not match tier currency %q", d.FlatFee.Currency, d.Currency))
	}
	for c, n := range d.Included {
		if !c.IsKnown() {
			errs = append(errs, fmt.Errorf("included %s: unrecognized category", c))
		}
		if n < 0 {
			errs = append(errs, fmt.Errorf("included %s must not be negative", c))
		}
	}
	for c, p := range d.UnitPrice {
		if !c.IsKnown() {
			errs = append(errs, fmt.Errorf("unit price for %s: unrecognized category", c))
		}
		if p.IsNegative() {
			errs = append(errs, fmt.Errorf("unit price for %s must not be negative", c))
		}
		if p.Currency != d.Currency {
			errs = append(errs, fmt.Errorf("unit price for %s is in %q, tier is %q", c, p.Currency, d.Currency))
		}
	}
	return errors.Join(errs...)
}

// SamePricing reports whether o prices usage identically to d. Version,
// ID and timestamps are ignored.
func (d *Definition) SamePricing(o *Definition) bool {
	if o == nil || d.Currency != o.Currency || !d.FlatFee.Equal(o.FlatFee) {
		return false
	}
	if len(d.Included) != len(o.Included) || len(d.UnitPrice) != len(o.UnitPrice) {
		return false
	}
	for c, n := range d.Included {
		if m, ok := o.Included[c]; !ok || m != n {
			return false
		}
	}
	for c, p := range d.UnitPrice {
		if q, ok := o.UnitPrice[c]; !ok || !q.Equal(p) {
			return false
		}
	}
	return true
}
