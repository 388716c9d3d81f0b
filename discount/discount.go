// Package discount applies account-level discounts to an invoice subtotal.
//
// Precedence is fixed: a pilot account pays nothing; a founding account gets
// a percentage off the flat fee only; then a volume discount applies to the
// running flat+usage subtotal using the single highest threshold reached.
// The resulting total is never negative.
package discount

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xraph/tally/types"
)

type Kind string

const (
	KindPilot    Kind = "pilot"
	KindFounding Kind = "founding"
	KindVolume   Kind = "volume"
)

var hundred = decimal.NewFromInt(100)

// Threshold grants Percent off once the subtotal reaches Threshold.
type Threshold struct {
	Threshold types.Money     `json:"threshold"`
	Percent   decimal.Decimal `json:"percent"`
}

// Policy is the configured discount schedule.
type Policy struct {
	FoundingPercent decimal.Decimal `json:"founding_percent"`
	Volume          []Threshold     `json:"volume,omitempty"`
}

// DefaultPolicy gives founding accounts 25% off the flat fee and no volume
// discounts.
func DefaultPolicy() Policy {
	return Policy{FoundingPercent: decimal.NewFromInt(25)}
}

// Validate rejects percentages outside [0, 100] and negative thresholds.
func (p Policy) Validate() error {
	var errs []error
	if p.FoundingPercent.IsNegative() || p.FoundingPercent.GreaterThan(hundred) {
		errs = append(errs, fmt.Errorf("founding percent %s out of range", p.FoundingPercent))
	}
	for i, t := range p.Volume {
		if t.Percent.IsNegative() || t.Percent.GreaterThan(hundred) {
			errs = append(errs, fmt.Errorf("volume[%d] percent %s out of range", i, t.Percent))
		}
		if t.Threshold.IsNegative() {
			errs = append(errs, fmt.Errorf("volume[%d] threshold must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// Input is what the engine knows about an invoice before discounts.
type Input struct {
	FlatFee  types.Money
	Usage    types.Money
	Founding bool
	Pilot    bool
}

// Applied records one discount that changed the total.
type Applied struct {
	Kind    Kind            `json:"kind"`
	Percent decimal.Decimal `json:"percent"`
	Amount  types.Money     `json:"amount"`
}

type Result struct {
	Gross   types.Money `json:"gross"`
	Applied []Applied   `json:"applied,omitempty"`
	Total   types.Money `json:"total"`
}

// Discount returns the sum of all applied amounts.
func (r Result) Discount() types.Money {
	return r.Gross.Subtract(r.Total)
}

// Apply runs the policy against in. FlatFee and Usage must share a currency.
func (p Policy) Apply(in Input) Result {
	gross := in.FlatFee.Add(in.Usage)
	res := Result{Gross: gross}

	if in.Pilot {
		if !gross.IsZero() {
			res.Applied = append(res.Applied, Applied{Kind: KindPilot, Percent: hundred, Amount: gross})
		}
		res.Total = types.Zero(gross.Currency)
		return res
	}

	flat := in.FlatFee
	if in.Founding && p.FoundingPercent.IsPositive() && flat.IsPositive() {
		off := flat.Percent(p.FoundingPercent)
		flat = flat.Subtract(off)
		res.Applied = append(res.Applied, Applied{Kind: KindFounding, Percent: p.FoundingPercent, Amount: off})
	}

	subtotal := flat.Add(in.Usage)
	if t, ok := p.volumeFor(subtotal); ok {
		off := subtotal.Percent(t.Percent)
		subtotal = subtotal.Subtract(off)
		res.Applied = append(res.Applied, Applied{Kind: KindVolume, Percent: t.Percent, Amount: off})
	}

	res.Total = subtotal.ClampZero()
	return res
}

// volumeFor picks the highest threshold in subtotal's currency that
// subtotal reaches.
func (p Policy) volumeFor(subtotal types.Money) (Threshold, bool) {
	var candidates []Threshold
	for _, t := range p.Volume {
		if t.Threshold.Currency == subtotal.Currency && t.Percent.IsPositive() && subtotal.GreaterOrEqual(t.Threshold) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return Threshold{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Threshold.Amount > candidates[j].Threshold.Amount
	})
	return candidates[0], true
}
