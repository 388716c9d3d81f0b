package tally

import (
	"fmt"

	"github.com/xraph/tally/charge"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/tier"
	"github.com/xraph/tally/types"
)

// Quote is an offline rendition of what an invoice would charge.
type Quote struct {
	Tier     string          `json:"tier" yaml:"tier"`
	Version  int             `json:"version" yaml:"version"`
	Charges  charge.Result   `json:"charges" yaml:"charges"`
	Discount discount.Result `json:"discount" yaml:"discount"`
	Digest   string          `json:"digest" yaml:"digest"`
	Total    types.Money     `json:"total" yaml:"total"`
}

// QuoteInput describes a hypothetical invoice.
type QuoteInput struct {
	Counts meter.Counts
	// Tier prices usage; FlatFeeTier supplies the flat fee and defaults to Tier.
	Tier        *tier.Definition
	FlatFeeTier *tier.Definition
	// SkipFlatFee quotes usage only, as on a final invoice.
	SkipFlatFee bool
	Founding    bool
	Pilot       bool
}

// BuildQuote runs the charge and discount calculations exactly as invoice
// generation does, without touching any store. Disputes are audited by
// re-running it against the counts and tier an invoice recorded.
func BuildQuote(in QuoteInput, policy discount.Policy) (*Quote, error) {
	usage := charge.Calculate(in.Counts, in.Tier)

	flat := types.Zero(in.Tier.Currency)
	if !in.SkipFlatFee {
		ft := in.FlatFeeTier
		if ft == nil {
			ft = in.Tier
		}
		if ft.Currency != in.Tier.Currency {
			return nil, &ConfigurationError{
				Tier: ft.Name,
				Err:  fmt.Errorf("flat fee currency %s differs from usage currency %s", ft.Currency, in.Tier.Currency),
			}
		}
		flat = ft.FlatFee
	}

	disc := policy.Apply(discount.Input{
		FlatFee:  flat,
		Usage:    usage.Total,
		Founding: in.Founding,
		Pilot:    in.Pilot,
	})

	digest, err := usage.Digest()
	if err != nil {
		return nil, err
	}

	return &Quote{
		Tier:     in.Tier.Name,
		Version:  in.Tier.Version,
		Charges:  usage,
		Discount: disc,
		Digest:   digest,
		Total:    disc.Total,
	}, nil
}
