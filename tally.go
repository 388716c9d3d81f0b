package tally

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/lock"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/store"
)

// Engine is the metering and billing engine.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	locker   lock.Locker
	notifier reminder.Notifier
	rates    RateSource
	clock    func() time.Time

	// Billing configuration
	policy      discount.Policy
	length      cycle.Length
	schedule    reminder.Schedule
	dueDays     int
	cancelAfter time.Duration
	minCycleAge time.Duration
	lockTTL     time.Duration

	// Usage aggregation
	snapshotSize   int
	snapshotTTL    time.Duration
	summaryTimeout time.Duration
	snapshots      *expirable.LRU[string, *Snapshot]
	lastKnown      *lru.Cache[string, *Snapshot]
	lastBasis      *lru.Cache[string, summaryBasis] // account id -> last open cycle and tier
	generations    sync.Map                         // account id -> *atomic.Uint64
	flights        singleflight.Group

	// Scheduler
	schedules Schedules
	cron      *cron.Cron
}

// Schedules holds the cron specs of the background jobs. An empty spec
// disables that job.
type Schedules struct {
	Rollover  string `json:"rollover" mapstructure:"rollover" yaml:"rollover"`
	Reminders string `json:"reminders" mapstructure:"reminders" yaml:"reminders"`
}

// DefaultSchedules checks for due cycles every five minutes and runs the
// reminder pass hourly.
func DefaultSchedules() Schedules {
	return Schedules{Rollover: "@every 5m", Reminders: "@hourly"}
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		locker:         lock.NewLocal(),
		clock:          time.Now,
		policy:         discount.DefaultPolicy(),
		length:         cycle.Monthly,
		schedule:       reminder.DefaultSchedule(),
		dueDays:        14,
		cancelAfter:    30 * 24 * time.Hour,
		minCycleAge:    10 * time.Minute,
		lockTTL:        30 * time.Second,
		snapshotSize:   4096,
		snapshotTTL:    time.Minute,
		summaryTimeout: 2 * time.Second,
		schedules:      DefaultSchedules(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.notifier == nil {
		e.notifier = reminder.LogNotifier{Logger: e.logger}
	}
	e.snapshots = expirable.NewLRU[string, *Snapshot](e.snapshotSize, nil, e.snapshotTTL)
	last, err := lru.New[string, *Snapshot](e.snapshotSize)
	if err != nil {
		// Only a non-positive size fails; fall back to the default.
		last, _ = lru.New[string, *Snapshot](4096) //nolint:errcheck // constant size
	}
	e.lastKnown = last
	basis, err := lru.New[string, summaryBasis](e.snapshotSize)
	if err != nil {
		basis, _ = lru.New[string, summaryBasis](4096) //nolint:errcheck // constant size
	}
	e.lastBasis = basis

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithLocker sets the per-account lock used to serialize cycle close and
// invoice generation. Use lock.NewRedis when several processes share a store.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLockTTL sets how long a per-account lease lives before it expires.
func WithLockTTL(d time.Duration) Option {
	return func(e *Engine) { e.lockTTL = d }
}

// WithNotifier sets the reminder delivery collaborator.
func WithNotifier(n reminder.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRates sets the exchange rate source for accounts billed in a
// currency other than their tier's.
func WithRates(r RateSource) Option {
	return func(e *Engine) { e.rates = r }
}

// WithDiscountPolicy replaces the default founding/volume discounts.
func WithDiscountPolicy(p discount.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithCycleLength sets the billing cycle length.
func WithCycleLength(l cycle.Length) Option {
	return func(e *Engine) { e.length = l }
}

// WithReminderSchedule replaces the reminder offsets.
func WithReminderSchedule(s reminder.Schedule) Option {
	return func(e *Engine) { e.schedule = s.Sorted() }
}

// WithDueDays sets how many days after issue an invoice is due.
func WithDueDays(days int) Option {
	return func(e *Engine) { e.dueDays = days }
}

// WithCancelAfter sets how long an account may stay suspended before it is
// cancelled for non-payment. Zero disables automatic cancellation.
func WithCancelAfter(d time.Duration) Option {
	return func(e *Engine) { e.cancelAfter = d }
}

// WithMinCycleAge sets the window after a rollover during which
// CloseCycle and GenerateInvoice resolve to the cycle just closed instead
// of closing the new one.
func WithMinCycleAge(d time.Duration) Option {
	return func(e *Engine) { e.minCycleAge = d }
}

// WithSnapshotCache sizes the usage snapshot memo.
func WithSnapshotCache(size int, ttl time.Duration) Option {
	return func(e *Engine) {
		if size > 0 {
			e.snapshotSize = size
		}
		e.snapshotTTL = ttl
	}
}

// WithSummaryTimeout bounds how long GetUsageSummary waits for a fresh
// aggregation before falling back to the last known snapshot.
func WithSummaryTimeout(d time.Duration) Option {
	return func(e *Engine) { e.summaryTimeout = d }
}

// WithSchedules sets the cron specs of the background jobs.
func WithSchedules(s Schedules) Option {
	return func(e *Engine) { e.schedules = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Schedule returns the reminder offsets in firing order.
func (e *Engine) Schedule() reminder.Schedule { return e.schedule.Sorted() }

// Policy returns the discount policy.
func (e *Engine) Policy() discount.Policy { return e.policy }

// now is the engine clock in UTC, truncated to milliseconds so that
// timestamps survive every store backend unchanged.
func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Millisecond)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start migrates the store, initializes plugins and starts the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.schedule.Validate(); err != nil {
		return &ConfigurationError{Err: fmt.Errorf("reminder schedule: %w", err)}
	}
	if err := e.policy.Validate(); err != nil {
		return &ConfigurationError{Err: fmt.Errorf("discount policy: %w", err)}
	}

	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	if err := e.startScheduler(); err != nil {
		return err
	}

	e.logger.Info("tally started",
		"cycle_length", e.length.String(),
		"due_days", e.dueDays,
		"rollover", e.schedules.Rollover,
		"reminders", e.schedules.Reminders,
		"plugins", e.plugins.Count(),
	)
	return nil
}

// Stop waits for running jobs, notifies plugins and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cron != nil {
		done := e.cron.Stop()
		select {
		case <-done.Done():
		case <-ctx.Done():
			e.logger.Warn("tally: scheduler did not drain before shutdown", "error", ctx.Err())
		}
	}

	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

func (e *Engine) startScheduler() error {
	if e.schedules.Rollover == "" && e.schedules.Reminders == "" {
		return nil
	}

	cl := cronLogger{e.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (int, error)
	}{
		{"rollover", e.schedules.Rollover, e.RolloverDueCycles},
		{"reminders", e.schedules.Reminders, e.RunReminders},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := c.AddFunc(j.spec, e.tick(j.name, j.run)); err != nil {
			return &ConfigurationError{Err: fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)}
		}
	}

	c.Start()
	e.cron = c
	return nil
}

// tick wraps a job for the scheduler. Errors are logged and the job is
// simply retried on its next firing.
func (e *Engine) tick(name string, run func(context.Context) (int, error)) func() {
	return func() {
		ctx := context.Background()
		start := time.Now()
		n, err := run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			e.logger.Error("tally: scheduled job failed", "job", name, "processed", n, "error", err)
		} else {
			e.logger.Debug("tally: scheduled job completed", "job", name, "processed", n, "elapsed", elapsed)
		}
		e.plugins.EmitTickCompleted(ctx, name, n, elapsed, err)
	}
}

// cronLogger routes scheduler diagnostics through slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
