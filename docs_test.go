package tally_test

import (
	"context"
	"log"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/account"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/tier"
)

// TestDocumentationExamples verifies that the package documentation
// examples work as written.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		engine := tally.New(store,
			tally.WithLogger(slog.Default()),
			tally.WithSchedules(tally.Schedules{}),
			tally.WithMinCycleAge(0),
		)

		ctx := context.Background()
		if err := engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer engine.Stop(ctx) //nolint:errcheck // test teardown

		starter, err := engine.PublishTier(ctx, &tier.Definition{
			Name:      "starter",
			Currency:  "usd",
			FlatFee:   tally.USD(100000),
			Included:  map[meter.Category]int64{meter.CategoryQuery: 500},
			UnitPrice: map[meter.Category]tally.Money{meter.CategoryQuery: tally.USD(15)},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, starter.Version)

		acct := &account.Account{Name: "Acme", Tier: "starter", Founding: true}
		require.NoError(t, engine.CreateAccount(ctx, acct))

		for i := 0; i < 3; i++ {
			err := engine.RecordUsage(ctx, &meter.UsageEvent{
				AccountID:      acct.ID,
				Category:       meter.CategoryQuery,
				Quantity:       1,
				IdempotencyKey: "req-1",
			})
			require.NoError(t, err)
		}

		sum, err := engine.GetUsageSummary(ctx, acct.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, sum.Counts[meter.CategoryQuery])

		inv, err := engine.GenerateInvoice(ctx, acct.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, inv.Summary)
		log.Printf("Invoice generated: %s\n", inv.Total.String())
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		// Constructors
		_ = tally.USD(4900)   // $49.00
		_ = tally.EUR(9900)   // €99.00
		_ = tally.Zero("usd") // $0.00

		// Arithmetic
		m1 := tally.USD(100)
		m2 := tally.USD(200)
		assert.Equal(t, tally.USD(300), m1.Add(m2))
		assert.Equal(t, tally.USD(300), m1.Multiply(3))
		assert.Equal(t, tally.USD(-100), m1.Subtract(m2))

		// Formatting
		assert.Equal(t, "$1.00", m1.String())
		assert.Equal(t, "1.00", m1.FormatMajor())
	})
}
