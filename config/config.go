// Package config loads Tally's runtime configuration from YAML and
// TALLY_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/xraph/tally"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/tier"
	"github.com/xraph/tally/types"
)

// EnvPrefix prefixes every environment override, e.g. TALLY_BILLING_DUE_DAYS.
const EnvPrefix = "TALLY"

// Config holds all Tally configuration.
type Config struct {
	Server    ServerConfig      `mapstructure:"server" yaml:"server"`
	Log       LogConfig         `mapstructure:"log" yaml:"log"`
	Billing   BillingConfig     `mapstructure:"billing" yaml:"billing"`
	Tiers     []TierConfig      `mapstructure:"tiers" yaml:"tiers"`
	Rates     map[string]string `mapstructure:"rates" yaml:"rates"`
	Schedules tally.Schedules   `mapstructure:"schedules" yaml:"schedules"`
	Cache     CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Redis     RedisConfig       `mapstructure:"redis" yaml:"redis"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address     string        `mapstructure:"address" yaml:"address"`
	BasePath    string        `mapstructure:"base_path" yaml:"base_path"`
	MetricsPath string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// BillingConfig holds cycle, invoice and discount settings.
type BillingConfig struct {
	CycleLength     string            `mapstructure:"cycle_length" yaml:"cycle_length"`
	DueDays         int               `mapstructure:"due_days" yaml:"due_days"`
	CancelAfter     time.Duration     `mapstructure:"cancel_after" yaml:"cancel_after"`
	MinCycleAge     time.Duration     `mapstructure:"min_cycle_age" yaml:"min_cycle_age"`
	FoundingPercent string            `mapstructure:"founding_percent" yaml:"founding_percent"`
	Volume          []VolumeConfig    `mapstructure:"volume" yaml:"volume"`
	Reminders       []reminder.Offset `mapstructure:"reminders" yaml:"reminders"`
}

// VolumeConfig is one volume discount threshold, in minor units of the
// tier currency.
type VolumeConfig struct {
	Threshold int64  `mapstructure:"threshold" yaml:"threshold"`
	Currency  string `mapstructure:"currency" yaml:"currency"`
	Percent   string `mapstructure:"percent" yaml:"percent"`
}

// TierConfig is one tier of the pricing table. Amounts are minor units.
type TierConfig struct {
	Name      string           `mapstructure:"name" yaml:"name"`
	Currency  string           `mapstructure:"currency" yaml:"currency"`
	FlatFee   int64            `mapstructure:"flat_fee" yaml:"flat_fee"`
	Included  map[string]int64 `mapstructure:"included" yaml:"included"`
	UnitPrice map[string]int64 `mapstructure:"unit_price" yaml:"unit_price"`
}

// CacheConfig sizes the usage snapshot memo.
type CacheConfig struct {
	Size           int           `mapstructure:"size" yaml:"size"`
	TTL            time.Duration `mapstructure:"ttl" yaml:"ttl"`
	SummaryTimeout time.Duration `mapstructure:"summary_timeout" yaml:"summary_timeout"`
}

// RedisConfig enables the shared lock when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// Load reads configuration. Priority, highest first:
//  1. Environment variables with the TALLY_ prefix
//  2. The file at path, or tally.yaml in the working directory or /etc/tally
//  3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tally")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tally")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	sched := tally.DefaultSchedules()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.base_path", "/tally")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("billing.cycle_length", "monthly")
	v.SetDefault("billing.due_days", 14)
	v.SetDefault("billing.cancel_after", 30*24*time.Hour)
	v.SetDefault("billing.min_cycle_age", 10*time.Minute)
	v.SetDefault("billing.founding_percent", "25")
	v.SetDefault("schedules.rollover", sched.Rollover)
	v.SetDefault("schedules.reminders", sched.Reminders)
	v.SetDefault("cache.size", 4096)
	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.summary_timeout", 2*time.Second)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
}

// ──────────────────────────────────────────────────
// Conversions
// ──────────────────────────────────────────────────

// Policy builds the discount policy.
func (c *Config) Policy() (discount.Policy, error) {
	p := discount.DefaultPolicy()
	if c.Billing.FoundingPercent != "" {
		pct, err := decimal.NewFromString(c.Billing.FoundingPercent)
		if err != nil {
			return p, fmt.Errorf("config: founding_percent: %w", err)
		}
		p.FoundingPercent = pct
	}
	for i, vc := range c.Billing.Volume {
		pct, err := decimal.NewFromString(vc.Percent)
		if err != nil {
			return p, fmt.Errorf("config: volume[%d].percent: %w", i, err)
		}
		p.Volume = append(p.Volume, discount.Threshold{
			Threshold: types.New(vc.Threshold, strings.ToLower(vc.Currency)),
			Percent:   pct,
		})
	}
	return p, p.Validate()
}

// Schedule returns the configured reminder offsets, or the default set.
func (c *Config) Schedule() (reminder.Schedule, error) {
	if len(c.Billing.Reminders) == 0 {
		return reminder.DefaultSchedule(), nil
	}
	s := reminder.Schedule(c.Billing.Reminders).Sorted()
	return s, s.Validate()
}

// Length parses the cycle length.
func (c *Config) Length() (cycle.Length, error) {
	return cycle.ParseLength(c.Billing.CycleLength)
}

// StaticRates parses the FX table. Keys are "from:to".
func (c *Config) StaticRates() (tally.StaticRates, error) {
	rates := make(tally.StaticRates, len(c.Rates))
	for pair, s := range c.Rates {
		r, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("config: rate %s: %w", pair, err)
		}
		if !strings.Contains(pair, ":") {
			return nil, fmt.Errorf("config: rate key %q must be from:to", pair)
		}
		rates[strings.ToLower(pair)] = r
	}
	return rates, nil
}

// TierDefinitions converts the pricing table into tier definitions ready
// to publish.
func (c *Config) TierDefinitions() ([]*tier.Definition, error) {
	defs := make([]*tier.Definition, 0, len(c.Tiers))
	for _, tc := range c.Tiers {
		cur := strings.ToLower(tc.Currency)
		d := &tier.Definition{
			Name:      tc.Name,
			Currency:  cur,
			FlatFee:   types.New(tc.FlatFee, cur),
			Included:  make(map[meter.Category]int64, len(tc.Included)),
			UnitPrice: make(map[meter.Category]types.Money, len(tc.UnitPrice)),
		}
		for cat, n := range tc.Included {
			d.Included[meter.Category(cat)] = n
		}
		for cat, p := range tc.UnitPrice {
			d.UnitPrice[meter.Category(cat)] = types.New(p, cur)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("config: tier %s: %w", tc.Name, err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// EngineOptions converts the billing, cache and schedule settings into
// engine options.
func (c *Config) EngineOptions() ([]tally.Option, error) {
	policy, err := c.Policy()
	if err != nil {
		return nil, err
	}
	sched, err := c.Schedule()
	if err != nil {
		return nil, err
	}
	length, err := c.Length()
	if err != nil {
		return nil, err
	}
	rates, err := c.StaticRates()
	if err != nil {
		return nil, err
	}

	opts := []tally.Option{
		tally.WithDiscountPolicy(policy),
		tally.WithReminderSchedule(sched),
		tally.WithCycleLength(length),
		tally.WithDueDays(c.Billing.DueDays),
		tally.WithCancelAfter(c.Billing.CancelAfter),
		tally.WithMinCycleAge(c.Billing.MinCycleAge),
		tally.WithSnapshotCache(c.Cache.Size, c.Cache.TTL),
		tally.WithSummaryTimeout(c.Cache.SummaryTimeout),
		tally.WithSchedules(c.Schedules),
	}
	if len(rates) > 0 {
		opts = append(opts, tally.WithRates(rates))
	}
	if c.Redis.LockTTL > 0 {
		opts = append(opts, tally.WithLockTTL(c.Redis.LockTTL))
	}
	return opts, nil
}
