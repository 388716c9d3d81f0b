package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/charge"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/reminder"
	"github.com/xraph/tally/subscription"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and dispatches hooks to them.
// Hook implementations are cached per interface at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit             []OnInit
	onShutdown         []OnShutdown
	onAccountCreated   []OnAccountCreated
	onStatusChanged    []OnStatusChanged
	onUsageRecorded    []OnUsageRecorded
	onUsageRejected    []OnUsageRejected
	onStaleAggregation []OnStaleAggregation
	onCycleClosed      []OnCycleClosed
	onInvoiceGenerated []OnInvoiceGenerated
	onInvoiceFailed    []OnInvoiceFailed
	onInvoicePaid      []OnInvoicePaid
	onInvoiceOverdue   []OnInvoiceOverdue
	onChargeFlagged    []OnChargeFlagged
	onReminderSent     []OnReminderSent
	onTickCompleted    []OnTickCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
	}
	if v, ok := p.(OnStatusChanged); ok {
		r.onStatusChanged = append(r.onStatusChanged, v)
	}
	if v, ok := p.(OnUsageRecorded); ok {
		r.onUsageRecorded = append(r.onUsageRecorded, v)
	}
	if v, ok := p.(OnUsageRejected); ok {
		r.onUsageRejected = append(r.onUsageRejected, v)
	}
	if v, ok := p.(OnStaleAggregation); ok {
		r.onStaleAggregation = append(r.onStaleAggregation, v)
	}
	if v, ok := p.(OnCycleClosed); ok {
		r.onCycleClosed = append(r.onCycleClosed, v)
	}
	if v, ok := p.(OnInvoiceGenerated); ok {
		r.onInvoiceGenerated = append(r.onInvoiceGenerated, v)
	}
	if v, ok := p.(OnInvoiceFailed); ok {
		r.onInvoiceFailed = append(r.onInvoiceFailed, v)
	}
	if v, ok := p.(OnInvoicePaid); ok {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
	}
	if v, ok := p.(OnInvoiceOverdue); ok {
		r.onInvoiceOverdue = append(r.onInvoiceOverdue, v)
	}
	if v, ok := p.(OnChargeFlagged); ok {
		r.onChargeFlagged = append(r.onChargeFlagged, v)
	}
	if v, ok := p.(OnReminderSent); ok {
		r.onReminderSent = append(r.onReminderSent, v)
	}
	if v, ok := p.(OnTickCompleted); ok {
		r.onTickCompleted = append(r.onTickCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedHooks(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnAccountCreated", reflect.TypeFor[OnAccountCreated]()},
	{"OnStatusChanged", reflect.TypeFor[OnStatusChanged]()},
	{"OnUsageRecorded", reflect.TypeFor[OnUsageRecorded]()},
	{"OnUsageRejected", reflect.TypeFor[OnUsageRejected]()},
	{"OnStaleAggregation", reflect.TypeFor[OnStaleAggregation]()},
	{"OnCycleClosed", reflect.TypeFor[OnCycleClosed]()},
	{"OnInvoiceGenerated", reflect.TypeFor[OnInvoiceGenerated]()},
	{"OnInvoiceFailed", reflect.TypeFor[OnInvoiceFailed]()},
	{"OnInvoicePaid", reflect.TypeFor[OnInvoicePaid]()},
	{"OnInvoiceOverdue", reflect.TypeFor[OnInvoiceOverdue]()},
	{"OnChargeFlagged", reflect.TypeFor[OnChargeFlagged]()},
	{"OnReminderSent", reflect.TypeFor[OnReminderSent]()},
	{"OnTickCompleted", reflect.TypeFor[OnTickCompleted]()},
}

// implementedHooks lists the hook interfaces p implements.
func implementedHooks(p Plugin) []string {
	var out []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.typ) {
			out = append(out, h.name)
		}
	}
	return out
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// dispatch calls fn for every plugin in the snapshot taken by pick. Hook
// errors are logged and never returned: plugins observe billing, they do
// not veto it.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, pick func(*Registry) []T, fn func(T) error) {
	r.mu.RLock()
	plugins := pick(r)
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	dispatch(ctx, r, "OnInit", func(r *Registry) []OnInit { return r.onInit },
		func(p OnInit) error { return p.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", func(r *Registry) []OnShutdown { return r.onShutdown },
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

func (r *Registry) EmitAccountCreated(ctx context.Context, a *account.Account) {
	dispatch(ctx, r, "OnAccountCreated", func(r *Registry) []OnAccountCreated { return r.onAccountCreated },
		func(p OnAccountCreated) error { return p.OnAccountCreated(ctx, a) })
}

func (r *Registry) EmitStatusChanged(ctx context.Context, a *account.Account, from, to subscription.State, ev subscription.Event) {
	dispatch(ctx, r, "OnStatusChanged", func(r *Registry) []OnStatusChanged { return r.onStatusChanged },
		func(p OnStatusChanged) error { return p.OnStatusChanged(ctx, a, from, to, ev) })
}

func (r *Registry) EmitUsageRecorded(ctx context.Context, e *meter.UsageEvent) {
	dispatch(ctx, r, "OnUsageRecorded", func(r *Registry) []OnUsageRecorded { return r.onUsageRecorded },
		func(p OnUsageRecorded) error { return p.OnUsageRecorded(ctx, e) })
}

func (r *Registry) EmitUsageRejected(ctx context.Context, e *meter.UsageEvent, reason error) {
	dispatch(ctx, r, "OnUsageRejected", func(r *Registry) []OnUsageRejected { return r.onUsageRejected },
		func(p OnUsageRejected) error { return p.OnUsageRejected(ctx, e, reason) })
}

func (r *Registry) EmitStaleAggregation(ctx context.Context, accountID id.AccountID, cycleID id.CycleID, cause error) {
	dispatch(ctx, r, "OnStaleAggregation", func(r *Registry) []OnStaleAggregation { return r.onStaleAggregation },
		func(p OnStaleAggregation) error { return p.OnStaleAggregation(ctx, accountID, cycleID, cause) })
}

func (r *Registry) EmitCycleClosed(ctx context.Context, closed, next *cycle.Cycle) {
	dispatch(ctx, r, "OnCycleClosed", func(r *Registry) []OnCycleClosed { return r.onCycleClosed },
		func(p OnCycleClosed) error { return p.OnCycleClosed(ctx, closed, next) })
}

func (r *Registry) EmitInvoiceGenerated(ctx context.Context, inv *invoice.Invoice) {
	dispatch(ctx, r, "OnInvoiceGenerated", func(r *Registry) []OnInvoiceGenerated { return r.onInvoiceGenerated },
		func(p OnInvoiceGenerated) error { return p.OnInvoiceGenerated(ctx, inv) })
}

func (r *Registry) EmitInvoiceFailed(ctx context.Context, accountID id.AccountID, cycleID id.CycleID, err error) {
	dispatch(ctx, r, "OnInvoiceFailed", func(r *Registry) []OnInvoiceFailed { return r.onInvoiceFailed },
		func(p OnInvoiceFailed) error { return p.OnInvoiceFailed(ctx, accountID, cycleID, err) })
}

func (r *Registry) EmitInvoicePaid(ctx context.Context, inv *invoice.Invoice) {
	dispatch(ctx, r, "OnInvoicePaid", func(r *Registry) []OnInvoicePaid { return r.onInvoicePaid },
		func(p OnInvoicePaid) error { return p.OnInvoicePaid(ctx, inv) })
}

func (r *Registry) EmitInvoiceOverdue(ctx context.Context, inv *invoice.Invoice) {
	dispatch(ctx, r, "OnInvoiceOverdue", func(r *Registry) []OnInvoiceOverdue { return r.onInvoiceOverdue },
		func(p OnInvoiceOverdue) error { return p.OnInvoiceOverdue(ctx, inv) })
}

func (r *Registry) EmitChargeFlagged(ctx context.Context, inv *invoice.Invoice, lines []charge.Line) {
	dispatch(ctx, r, "OnChargeFlagged", func(r *Registry) []OnChargeFlagged { return r.onChargeFlagged },
		func(p OnChargeFlagged) error { return p.OnChargeFlagged(ctx, inv, lines) })
}

func (r *Registry) EmitReminderSent(ctx context.Context, rec *reminder.Record, deliveryErr error) {
	dispatch(ctx, r, "OnReminderSent", func(r *Registry) []OnReminderSent { return r.onReminderSent },
		func(p OnReminderSent) error { return p.OnReminderSent(ctx, rec, deliveryErr) })
}

func (r *Registry) EmitTickCompleted(ctx context.Context, job string, processed int, elapsed time.Duration, err error) {
	dispatch(ctx, r, "OnTickCompleted", func(r *Registry) []OnTickCompleted { return r.onTickCompleted },
		func(p OnTickCompleted) error { return p.OnTickCompleted(ctx, job, processed, elapsed, err) })
}

// callWithTimeout calls a plugin function with a timeout so a slow plugin
// never blocks the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
