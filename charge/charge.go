// Package charge turns usage counts and a tier definition into overage
// charges. Calculate is pure: the same counts and tier always produce the
// same Result and the same canonical encoding.
package charge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/tier"
	"github.com/xraph/tally/types"
)

// Line is the charge for one category.
type Line struct {
	Category  meter.Category `json:"category"`
	Count     int64          `json:"count"`
	Included  int64          `json:"included"`
	Overage   int64          `json:"overage"`
	UnitPrice types.Money    `json:"unit_price"`
	Amount    types.Money    `json:"amount"`
	Flagged   bool           `json:"flagged,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Result is the usage charge breakdown for one cycle.
type Result struct {
	TierID   string      `json:"tier_id"`
	Currency string      `json:"currency"`
	Lines    []Line      `json:"lines"`
	Total    types.Money `json:"total"`
	Flagged  bool        `json:"flagged,omitempty"`
}

const (
	reasonUnknownCategory = "unrecognized category"
	reasonMissingPrice    = "overage without unit price"
)

// Calculate prices counts against def. Every category the tier mentions,
// every known category and every counted category gets a line, sorted by
// category name. Usage in an unrecognized category, and billable overage
// without a unit price, is charged zero and flagged for review.
func Calculate(counts meter.Counts, def *tier.Definition) Result {
	cats := make(map[meter.Category]struct{})
	for _, c := range meter.Known() {
		cats[c] = struct{}{}
	}
	for _, c := range def.Categories() {
		cats[c] = struct{}{}
	}
	for c := range counts {
		cats[c] = struct{}{}
	}

	ordered := make([]meter.Category, 0, len(cats))
	for c := range cats {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	res := Result{
		TierID:   def.ID.String(),
		Currency: def.Currency,
		Lines:    make([]Line, 0, len(ordered)),
		Total:    types.Zero(def.Currency),
	}
	for _, c := range ordered {
		count := counts[c]
		included := def.Included[c]
		line := Line{
			Category:  c,
			Count:     count,
			Included:  included,
			Overage:   max(0, count-included),
			UnitPrice: types.Zero(def.Currency),
			Amount:    types.Zero(def.Currency),
		}
		price, priced := def.UnitPrice[c]
		switch {
		case !c.IsKnown():
			if count > 0 {
				line.Flagged, line.Reason = true, reasonUnknownCategory
			}
		case priced:
			line.UnitPrice = price
			line.Amount = price.Multiply(line.Overage)
		case line.Overage > 0:
			line.Flagged, line.Reason = true, reasonMissingPrice
		}
		res.Flagged = res.Flagged || line.Flagged
		res.Total = res.Total.Add(line.Amount)
		res.Lines = append(res.Lines, line)
	}
	return res
}

// FlaggedLines returns the lines that need manual review.
func (r Result) FlaggedLines() []Line {
	var out []Line
	for _, l := range r.Lines {
		if l.Flagged {
			out = append(out, l)
		}
	}
	return out
}

// Canonical returns the stable JSON encoding of r. Lines are already
// ordered and the encoding contains no maps.
func (r Result) Canonical() ([]byte, error) {
	return json.Marshal(r)
}

// Digest is the hex SHA-256 of Canonical, stored on invoices so a
// recalculation can be compared byte for byte.
func (r Result) Digest() (string, error) {
	b, err := r.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
