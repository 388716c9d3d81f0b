package tally

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RateSource supplies exchange rates for presenting invoices in an
// account's billing currency.
type RateSource interface {
	// Rate returns units of `to` per unit of `from`.
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// StaticRates is a fixed rate table keyed "from:to" in lowercase, e.g.
// "usd:eur". The inverse pair is derived when only one direction is set.
type StaticRates map[string]decimal.Decimal

// ratePrecision is the number of decimal places kept for derived inverse rates.
const ratePrecision = 10

// Rate implements RateSource.
func (s StaticRates) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToLower(from), strings.ToLower(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := s[from+":"+to]; ok && r.IsPositive() {
		return r, nil
	}
	if r, ok := s[to+":"+from]; ok && r.IsPositive() {
		return decimal.NewFromInt(1).DivRound(r, ratePrecision), nil
	}
	return decimal.Zero, fmt.Errorf("no exchange rate from %s to %s", from, to)
}
