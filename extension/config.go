package extension

import (
	"time"

	"github.com/xraph/tally"
)

// Config holds the Tally extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tally" or "tally" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration and the scheduler on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for tally routes (default: "/tally").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// Driver selects the store backend built around the grove.DB passed with
	// WithGroveDB: "postgres", "sqlite" or "mongo". Ignored when a store is
	// set directly; the memory store is used when neither is given.
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DueDays is how many days after issue an invoice is due (default: 14).
	DueDays int `json:"due_days" mapstructure:"due_days" yaml:"due_days"`

	// CancelAfter is how long an account may stay suspended before it is
	// cancelled for non-payment (default: 720h).
	CancelAfter time.Duration `json:"cancel_after" mapstructure:"cancel_after" yaml:"cancel_after"`

	// SummaryTimeout bounds a fresh usage aggregation before the last known
	// snapshot is served (default: 2s).
	SummaryTimeout time.Duration `json:"summary_timeout" mapstructure:"summary_timeout" yaml:"summary_timeout"`

	// SnapshotTTL controls how long an aggregated usage snapshot is reused
	// (default: 1m).
	SnapshotTTL time.Duration `json:"snapshot_ttl" mapstructure:"snapshot_ttl" yaml:"snapshot_ttl"`

	// Schedules holds the cron specs of the rollover and reminder jobs.
	Schedules tally.Schedules `json:"schedules" mapstructure:"schedules" yaml:"schedules"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:       "/tally",
		DueDays:        14,
		CancelAfter:    30 * 24 * time.Hour,
		SummaryTimeout: 2 * time.Second,
		SnapshotTTL:    time.Minute,
		Schedules:      tally.DefaultSchedules(),
	}
}
