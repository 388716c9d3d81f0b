package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/store/memory"
)

func TestMergeWithDefaultsFillsZeroes(t *testing.T) {
	cfg := mergeWithDefaults(Config{DueDays: 30})

	assert.Equal(t, 30, cfg.DueDays)
	assert.Equal(t, "/tally", cfg.BasePath)
	assert.Equal(t, 30*24*time.Hour, cfg.CancelAfter)
	assert.Equal(t, tally.DefaultSchedules(), cfg.Schedules)
}

func TestMergeConfigurationsPrefersFile(t *testing.T) {
	file := Config{BasePath: "/billing", DueDays: 7}
	prog := Config{BasePath: "/ignored", DueDays: 21, Driver: "postgres", DisableRoutes: true}

	cfg := mergeConfigurations(file, prog)

	assert.Equal(t, "/billing", cfg.BasePath)
	assert.Equal(t, 7, cfg.DueDays)
	assert.Equal(t, "postgres", cfg.Driver)
	assert.True(t, cfg.DisableRoutes)
	assert.Equal(t, 2*time.Second, cfg.SummaryTimeout)
}

func TestResolveStoreDefaultsToMemory(t *testing.T) {
	e := New()
	require.NoError(t, e.resolveStore())
	assert.IsType(t, &memory.Store{}, e.store)
}

func TestResolveStoreKeepsExplicitStore(t *testing.T) {
	s := memory.New()
	e := New(WithStore(s))
	require.NoError(t, e.resolveStore())
	assert.Same(t, s, e.store)
}

func TestStoreForDriverRejectsUnknown(t *testing.T) {
	_, err := storeForDriver(nil, "cassandra")
	assert.ErrorContains(t, err, "cassandra")
}

func TestOptionsApply(t *testing.T) {
	e := New(
		WithBasePath("/b"),
		WithDueDays(10),
		WithCancelAfter(time.Hour),
		WithSchedules(tally.Schedules{Rollover: "@every 1m"}),
		WithDisableRoutes(),
		WithDisableMigrate(),
		WithTallyOption(tally.WithMinCycleAge(0)),
	)

	assert.Equal(t, "/b", e.config.BasePath)
	assert.Equal(t, 10, e.config.DueDays)
	assert.Equal(t, time.Hour, e.config.CancelAfter)
	assert.Equal(t, "@every 1m", e.config.Schedules.Rollover)
	assert.True(t, e.config.DisableRoutes)
	assert.True(t, e.config.DisableMigrate)
	assert.Len(t, e.tallyOpts, 1)
	assert.Len(t, e.buildTallyOpts(), 6)
}
