package discount_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/types"
)

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyScenarios(t *testing.T) {
	p := discount.DefaultPolicy()

	tests := []struct {
		name  string
		in    discount.Input
		total types.Money
		kinds []discount.Kind
	}{
		{
			name:  "standard account pays flat plus usage",
			in:    discount.Input{FlatFee: types.USD(100000), Usage: types.USD(2250)},
			total: types.USD(102250),
		},
		{
			name:  "founding discount touches flat fee only",
			in:    discount.Input{FlatFee: types.USD(100000), Usage: types.USD(2250), Founding: true},
			total: types.USD(77250),
			kinds: []discount.Kind{discount.KindFounding},
		},
		{
			name:  "pilot pays nothing regardless of usage",
			in:    discount.Input{FlatFee: types.USD(100000), Usage: types.USD(999999), Pilot: true, Founding: true},
			total: types.USD(0),
			kinds: []discount.Kind{discount.KindPilot},
		},
		{
			name:  "pilot with nothing to discount records nothing",
			in:    discount.Input{FlatFee: types.USD(0), Usage: types.USD(0), Pilot: true},
			total: types.USD(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Apply(tt.in)
			assert.Equal(t, tt.total, res.Total)
			var kinds []discount.Kind
			for _, a := range res.Applied {
				kinds = append(kinds, a.Kind)
			}
			assert.Equal(t, tt.kinds, kinds)
			assert.Equal(t, res.Gross.Subtract(res.Total), res.Discount())
		})
	}
}

func TestVolumeUsesHighestReachedThreshold(t *testing.T) {
	p := discount.Policy{
		Volume: []discount.Threshold{
			{Threshold: types.USD(200000), Percent: pct("10")},
			{Threshold: types.USD(50000), Percent: pct("5")},
			{Threshold: types.USD(500000), Percent: pct("15")},
		},
	}

	res := p.Apply(discount.Input{FlatFee: types.USD(100000), Usage: types.USD(150000)})
	require.Len(t, res.Applied, 1)
	assert.Equal(t, pct("10").String(), res.Applied[0].Percent.String())
	assert.Equal(t, types.USD(25000), res.Applied[0].Amount)
	assert.Equal(t, types.USD(225000), res.Total)

	exact := p.Apply(discount.Input{FlatFee: types.USD(50000), Usage: types.USD(0)})
	require.Len(t, exact.Applied, 1)
	assert.Equal(t, types.USD(2500), exact.Applied[0].Amount)

	below := p.Apply(discount.Input{FlatFee: types.USD(49999), Usage: types.USD(0)})
	assert.Empty(t, below.Applied)
}

func TestVolumeAppliesAfterFounding(t *testing.T) {
	p := discount.Policy{
		FoundingPercent: pct("25"),
		Volume:          []discount.Threshold{{Threshold: types.USD(100000), Percent: pct("10")}},
	}

	// Founding drops the subtotal from 1022.50 to 772.50, below the threshold.
	res := p.Apply(discount.Input{FlatFee: types.USD(100000), Usage: types.USD(2250), Founding: true})
	assert.Equal(t, types.USD(77250), res.Total)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, discount.KindFounding, res.Applied[0].Kind)
}

func TestTotalNeverNegative(t *testing.T) {
	p := discount.Policy{
		FoundingPercent: pct("100"),
		Volume:          []discount.Threshold{{Threshold: types.USD(0), Percent: pct("100")}},
	}
	for _, usage := range []int64{0, 1, 15, 2250, 1 << 40} {
		for _, founding := range []bool{false, true} {
			for _, pilot := range []bool{false, true} {
				res := p.Apply(discount.Input{FlatFee: types.USD(100000), Usage: types.USD(usage), Founding: founding, Pilot: pilot})
				assert.False(t, res.Total.IsNegative(), "usage=%d founding=%v pilot=%v", usage, founding, pilot)
			}
		}
	}
}

func TestVolumeIgnoresOtherCurrencies(t *testing.T) {
	p := discount.Policy{Volume: []discount.Threshold{{Threshold: types.EUR(100), Percent: pct("50")}}}
	res := p.Apply(discount.Input{FlatFee: types.USD(100000), Usage: types.USD(0)})
	assert.Empty(t, res.Applied)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, discount.DefaultPolicy().Validate())

	bad := discount.Policy{
		FoundingPercent: pct("101"),
		Volume:          []discount.Threshold{{Threshold: types.USD(-1), Percent: pct("-5")}},
	}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "founding percent")
	assert.Contains(t, err.Error(), "volume[0] percent")
	assert.Contains(t, err.Error(), "volume[0] threshold")
}
