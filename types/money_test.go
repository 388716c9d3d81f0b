package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyDisplay(t *testing.T) {
	cases := map[string]struct {
		in   Money
		want string
	}{
		"usd":              {USD(102250), "$1022.50"},
		"eur":              {EUR(19900), "€199.00"},
		"gbp":              {GBP(9900), "£99.00"},
		"jpy has no cents": {JPY(100), "¥100"},
		"currency folded":  {New(7550, "AUD"), "A$75.50"},
		"zero":             {Zero("USD"), "$0.00"},
		"unknown currency": {New(1234, "xts"), "XTS 12.34"},
		"sign before sym":  {USD(-2250), "-$22.50"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.String())
		})
	}
}

func TestMoneyMath(t *testing.T) {
	assert.Equal(t, USD(102250), USD(100000).Add(USD(2250)))
	assert.Equal(t, USD(300), USD(500).Subtract(USD(200)))
	assert.Equal(t, USD(2250), USD(15).Multiply(150))
	assert.Equal(t, USD(-100), USD(100).Negate())
	assert.Equal(t, USD(0), USD(-100).ClampZero())
	assert.Equal(t, USD(100), USD(100).ClampZero())
	assert.Equal(t, USD(250), Sum("usd", USD(100), USD(-50), USD(200)))
	assert.Equal(t, Zero("usd"), Sum("usd"))

	assert.True(t, USD(0).IsZero())
	assert.True(t, USD(1).IsPositive())
	assert.True(t, USD(-1).IsNegative())
	assert.True(t, USD(5).GreaterOrEqual(USD(5)))
	assert.False(t, USD(4).GreaterOrEqual(USD(5)))
}

func TestMoneyMismatchedCurrenciesPanic(t *testing.T) {
	assert.Panics(t, func() { _ = USD(100).Add(EUR(100)) })
	assert.Panics(t, func() { _ = Sum("usd", EUR(1)) })
}

func TestMoneyPercentRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   Money
		pct  string
		want int64
	}{
		{USD(100000), "25", 25000},
		{USD(5), "10", 1},
		{USD(4), "10", 0},
		{USD(102250), "12.5", 12781},
		{USD(-5), "10", -1},
		{USD(999), "0", 0},
	}
	for _, tc := range cases {
		got := tc.in.Percent(decimal.RequireFromString(tc.pct))
		assert.Equal(t, tc.want, got.Amount, "%s%% of %s", tc.pct, tc.in)
	}
}

func TestMoneyConvertRespectsMinorUnits(t *testing.T) {
	rate := decimal.RequireFromString
	assert.Equal(t, EUR(92025), USD(102250).Convert(rate("0.9"), "eur"))
	assert.Equal(t, JPY(1505), USD(1000).Convert(rate("150.5"), "JPY"))
	assert.Equal(t, USD(993), JPY(1505).Convert(rate("0.0066"), "usd"))
	assert.Equal(t, USD(77250), USD(77250).Convert(decimal.NewFromInt(1), "usd"))
}

func TestParseMajor(t *testing.T) {
	ok := map[string]Money{
		"1000":   USD(100000),
		"0.15":   USD(15),
		" 22.5 ": USD(2250),
	}
	for in, want := range ok {
		got, err := ParseMajor(in, "usd")
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	got, err := ParseMajor("500", "jpy")
	require.NoError(t, err)
	assert.Equal(t, JPY(500), got)

	for _, bad := range [][2]string{{"0.155", "usd"}, {"1.5", "jpy"}, {"abc", "usd"}} {
		_, err := ParseMajor(bad[0], bad[1])
		assert.Error(t, err, "%s %s", bad[0], bad[1])
	}
}

func TestFormatMajor(t *testing.T) {
	assert.Equal(t, "1022.50", USD(102250).FormatMajor())
	assert.Equal(t, "0.01", USD(1).FormatMajor())
	assert.Equal(t, "-49.00", USD(-4900).FormatMajor())
	assert.Equal(t, "12345", JPY(12345).FormatMajor())
	assert.Equal(t, "1022.5", USD(102250).Decimal().String())
}

func TestMoneyJSONCarriesDisplay(t *testing.T) {
	data, err := json.Marshal(USD(102250))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":102250,"currency":"usd","display":"$1022.50"}`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount":5,"currency":"EUR","display":"ignored"}`), &back))
	assert.Equal(t, EUR(5), back)
}

func BenchmarkMoneyPercent(b *testing.B) {
	m, pct := USD(100000), decimal.NewFromInt(25)
	for b.Loop() {
		_ = m.Percent(pct)
	}
}
