package tier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/tier"
	"github.com/xraph/tally/types"
)

func growth() *tier.Definition {
	return &tier.Definition{
		Name:     "growth",
		Currency: "usd",
		FlatFee:  types.USD(100000),
		Included: map[meter.Category]int64{meter.CategoryQuery: 500},
		UnitPrice: map[meter.Category]types.Money{
			meter.CategoryQuery: types.USD(15),
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, growth().Validate())

	bad := growth()
	bad.Name = ""
	bad.FlatFee = types.EUR(100)
	bad.Included[meter.CategoryPhoto] = -1
	bad.UnitPrice[meter.CategoryDocument] = types.EUR(5)

	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "flat fee currency")
	assert.Contains(t, err.Error(), "included photo")
	assert.Contains(t, err.Error(), "unit price for document")
}

func TestValidateRejectsUnknownCategories(t *testing.T) {
	d := growth()
	d.UnitPrice["video"] = types.USD(99)
	d.Included["video"] = 10

	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit price for video: unrecognized category")
	assert.Contains(t, err.Error(), "included video: unrecognized category")
}

func TestSamePricing(t *testing.T) {
	a, b := growth(), growth()
	b.Version = 7
	assert.True(t, a.SamePricing(b))

	b.UnitPrice[meter.CategoryQuery] = types.USD(20)
	assert.False(t, a.SamePricing(b))

	c := growth()
	c.Included[meter.CategoryDocument] = 10
	assert.False(t, a.SamePricing(c))
	assert.False(t, a.SamePricing(nil))
}

func TestCategories(t *testing.T) {
	d := growth()
	d.Included[meter.CategoryPhoto] = 20
	assert.Equal(t, []meter.Category{meter.CategoryPhoto, meter.CategoryQuery}, d.Categories())
}
