package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/tally"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/tier"
)

func newQuoteCmd(c *cli) *cobra.Command {
	var (
		tierName    string
		flatFeeTier string
		counts      []string
		founding    bool
		pilot       bool
		skipFlatFee bool
		output      string
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Preview the charges and discounts an invoice would carry",
		Long: "quote prices usage counts against a configured tier with the configured discount policy. " +
			"Given the counts and tier an invoice recorded, it reproduces that invoice's charge digest.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := parseCounts(counts)
			if err != nil {
				return err
			}
			defs, err := c.cfg.TierDefinitions()
			if err != nil {
				return err
			}
			usageTier, err := findTier(defs, tierName)
			if err != nil {
				return err
			}
			in := tally.QuoteInput{
				Counts:      parsed,
				Tier:        usageTier,
				SkipFlatFee: skipFlatFee,
				Founding:    founding,
				Pilot:       pilot,
			}
			if flatFeeTier != "" {
				if in.FlatFeeTier, err = findTier(defs, flatFeeTier); err != nil {
					return err
				}
			}

			policy, err := c.cfg.Policy()
			if err != nil {
				return err
			}
			q, err := tally.BuildQuote(in, policy)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, q)
		},
	}

	f := cmd.Flags()
	f.StringVar(&tierName, "tier", "", "Tier that prices the usage")
	f.StringVar(&flatFeeTier, "flat-fee-tier", "", "Tier that supplies the flat fee (default: --tier)")
	f.StringArrayVar(&counts, "count", nil, "Usage count as category=n; repeatable")
	f.BoolVar(&founding, "founding", false, "Apply the founding discount")
	f.BoolVar(&pilot, "pilot", false, "Price as a pilot account")
	f.BoolVar(&skipFlatFee, "skip-flat-fee", false, "Quote usage only, as on a final invoice")
	f.StringVarP(&output, "output", "o", "json", "Output format: json, yaml")
	_ = cmd.MarkFlagRequired("tier") //nolint:errcheck // flag defined above

	return cmd
}

func parseCounts(pairs []string) (meter.Counts, error) {
	counts := make(meter.Counts, len(pairs))
	for _, p := range pairs {
		cat, n, ok := strings.Cut(p, "=")
		if !ok || cat == "" {
			return nil, fmt.Errorf("count %q: want category=n", p)
		}
		v, err := strconv.ParseInt(n, 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("count %q: n must be a non-negative integer", p)
		}
		counts[meter.Category(cat)] += v
	}
	return counts, nil
}

func findTier(defs []*tier.Definition, name string) (*tier.Definition, error) {
	for _, d := range defs {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("tier %q is not configured", name)
}
