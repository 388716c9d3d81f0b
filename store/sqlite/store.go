package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tally"
	"github.com/xraph/tally/account"
	"github.com/xraph/tally/cycle"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/reminder"
	tallystore "github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/tier"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("tally/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tally/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.sdb.NewInsert(toAccountModel(a)).Exec(ctx)
	if isUniqueViolation(err) {
		return tally.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", accountID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var models []accountModel
	q := s.sdb.NewSelect(&models)
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*account.Account, len(models))
	for i := range models {
		a, err := fromAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("name = ?", a.Name).
		Set("tax_id = ?", a.TaxID).
		Set("tier = ?", a.Tier).
		Set("founding = ?", a.Founding).
		Set("pilot = ?", a.Pilot).
		Set("currency = ?", a.Currency).
		Set("metadata = ?", a.Metadata).
		Set("updated_at = ?", a.UpdatedAt).
		Where("id = ?", a.ID.String()).
		Exec(ctx)
	return affected(res, err, tally.ErrAccountNotFound)
}

func (s *Store) UpdateAccountStatus(ctx context.Context, accountID id.AccountID, from, to subscription.State, at time.Time) error {
	res, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("status = ?", string(to)).
		Set("status_changed_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", accountID.String()).
		Where("status = ?", string(from)).
		Exec(ctx)
	if err := affected(res, err, tally.ErrConflict); !errors.Is(err, tally.ErrConflict) {
		return err
	}
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return err
	}
	return tally.ErrConflict
}

// ==================== Tier Store ====================

func (s *Store) CreateTier(ctx context.Context, d *tier.Definition) error {
	_, err := s.sdb.NewInsert(toTierModel(d)).Exec(ctx)
	if isUniqueViolation(err) {
		return tally.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetTier(ctx context.Context, tierID id.TierID) (*tier.Definition, error) {
	m := new(tierModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", tierID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrTierNotFound
		}
		return nil, err
	}
	return fromTierModel(m)
}

func (s *Store) GetLatestTier(ctx context.Context, name string) (*tier.Definition, error) {
	m := new(tierModel)
	err := s.sdb.NewSelect(m).
		Where("name = ?", name).
		OrderExpr("version DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrTierNotFound
		}
		return nil, err
	}
	return fromTierModel(m)
}

func (s *Store) ListTiers(ctx context.Context, name string) ([]*tier.Definition, error) {
	var models []tierModel
	q := s.sdb.NewSelect(&models)
	if name != "" {
		q = q.Where("name = ?", name)
	}
	q = q.OrderExpr("name ASC, version ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*tier.Definition, len(models))
	for i := range models {
		d, err := fromTierModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

// ==================== Cycle Store ====================

func (s *Store) CreateCycle(ctx context.Context, c *cycle.Cycle) error {
	_, err := s.sdb.NewInsert(toCycleModel(c)).Exec(ctx)
	if isUniqueViolation(err) {
		if strings.HasPrefix(constraintName(err), "tally_cycles.account_id") {
			return tally.ErrOpenCycleExists
		}
		return tally.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetCycle(ctx context.Context, cycleID id.CycleID) (*cycle.Cycle, error) {
	return s.findCycle(ctx, tally.ErrCycleNotFound, "id = ?", cycleID.String())
}

func (s *Store) GetOpenCycle(ctx context.Context, accountID id.AccountID) (*cycle.Cycle, error) {
	return s.findCycle(ctx, tally.ErrNoOpenCycle, "account_id = ? AND status = ?", accountID.String(), string(cycle.StatusOpen))
}

func (s *Store) GetCycleByStart(ctx context.Context, accountID id.AccountID, start time.Time) (*cycle.Cycle, error) {
	return s.findCycle(ctx, tally.ErrCycleNotFound, "account_id = ? AND period_start = ?", accountID.String(), start)
}

func (s *Store) findCycle(ctx context.Context, notFound error, where string, args ...any) (*cycle.Cycle, error) {
	m := new(cycleModel)
	err := s.sdb.NewSelect(m).
		Where(where, args...).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound
		}
		return nil, err
	}
	return fromCycleModel(m)
}

func (s *Store) ListCycles(ctx context.Context, accountID id.AccountID, opts cycle.ListOpts) ([]*cycle.Cycle, error) {
	var models []cycleModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID.String())
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("period_start ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromCycleModels(models)
}

func (s *Store) ListDueCycles(ctx context.Context, before time.Time, limit int) ([]*cycle.Cycle, error) {
	var models []cycleModel
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(cycle.StatusOpen)).
		Where("period_end <= ?", before).
		OrderExpr("period_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromCycleModels(models)
}

func (s *Store) ListUninvoicedCycles(ctx context.Context, closedBefore time.Time, limit int) ([]*cycle.Cycle, error) {
	var models []cycleModel
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(cycle.StatusClosed)).
		Where("closed_at <= ?", closedBefore).
		Where("id NOT IN (SELECT cycle_id FROM tally_invoices WHERE kind = ?)", string(invoice.KindStandard)).
		OrderExpr("closed_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromCycleModels(models)
}

func (s *Store) CloseCycle(ctx context.Context, cycleID id.CycleID, end, closedAt time.Time) error {
	res, err := s.sdb.NewUpdate((*cycleModel)(nil)).
		Set("status = ?", string(cycle.StatusClosed)).
		Set("period_end = ?", end).
		Set("closed_at = ?", closedAt).
		Set("updated_at = ?", closedAt).
		Where("id = ?", cycleID.String()).
		Where("status = ?", string(cycle.StatusOpen)).
		Exec(ctx)
	if err := affected(res, err, tally.ErrCycleNotOpen); !errors.Is(err, tally.ErrCycleNotOpen) {
		return err
	}
	if _, err := s.GetCycle(ctx, cycleID); err != nil {
		return err
	}
	return tally.ErrCycleNotOpen
}

func fromCycleModels(models []cycleModel) ([]*cycle.Cycle, error) {
	result := make([]*cycle.Cycle, len(models))
	for i := range models {
		c, err := fromCycleModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// ==================== Meter Store ====================

func (s *Store) AppendUsage(ctx context.Context, e *meter.UsageEvent) error {
	_, err := s.sdb.NewInsert(toUsageEventModel(e)).Exec(ctx)
	if isUniqueViolation(err) {
		if strings.Contains(constraintName(err), "tally_usage_events.idempotency_key") {
			return tally.ErrDuplicateEvent
		}
		return tally.ErrAlreadyExists
	}
	return err
}

func (s *Store) AggregateUsage(ctx context.Context, accountID id.AccountID, start, end time.Time) (meter.Counts, error) {
	var totals []categoryTotal
	err := s.sdb.NewRaw(`
		SELECT category, COALESCE(SUM(quantity), 0) AS total FROM tally_usage_events
		WHERE account_id = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY category
	`, accountID.String(), start, end).Scan(ctx, &totals)
	if err != nil {
		return nil, err
	}

	counts := make(meter.Counts, len(totals))
	for _, t := range totals {
		counts[meter.Category(t.Category)] = t.Total
	}
	return counts, nil
}

func (s *Store) QueryUsage(ctx context.Context, accountID id.AccountID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	var models []usageEventModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID.String())
	if opts.Category != "" {
		q = q.Where("category = ?", string(opts.Category))
	}
	if !opts.Start.IsZero() {
		q = q.Where("timestamp >= ?", opts.Start)
	}
	if !opts.End.IsZero() {
		q = q.Where("timestamp < ?", opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("timestamp ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*meter.UsageEvent, len(models))
	for i := range models {
		evt, err := fromUsageEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	m, err := toInvoiceModel(inv)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	if isUniqueViolation(err) {
		if strings.Contains(constraintName(err), "tally_invoices.cycle_id") {
			return tally.ErrInvoiceExists
		}
		return tally.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", invID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrInvoiceNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) GetInvoiceByCycle(ctx context.Context, accountID id.AccountID, cycleID id.CycleID) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID.String()).
		Where("cycle_id = ?", cycleID.String()).
		Where("kind = ?", string(invoice.KindStandard)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrInvoiceNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) ListInvoices(ctx context.Context, accountID id.AccountID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID.String())
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("issued_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromInvoiceModels(models)
}

func (s *Store) ListUnpaidInvoices(ctx context.Context, limit int) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	q := s.sdb.NewSelect(&models).
		Where("status IN (?, ?)", string(invoice.StatusPending), string(invoice.StatusOverdue)).
		OrderExpr("due_date ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromInvoiceModels(models)
}

func (s *Store) MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error {
	res, err := s.sdb.NewUpdate((*invoiceModel)(nil)).
		Set("status = ?", string(invoice.StatusPaid)).
		Set("paid_at = ?", paidAt).
		Set("payment_ref = ?", paymentRef).
		Set("updated_at = ?", paidAt).
		Where("id = ?", invID.String()).
		Where("status IN (?, ?)", string(invoice.StatusPending), string(invoice.StatusOverdue)).
		Exec(ctx)
	if err := affected(res, err, tally.ErrInvoiceNotPayable); !errors.Is(err, tally.ErrInvoiceNotPayable) {
		return err
	}
	if _, err := s.GetInvoice(ctx, invID); err != nil {
		return err
	}
	return tally.ErrInvoiceNotPayable
}

func (s *Store) MarkInvoiceOverdue(ctx context.Context, invID id.InvoiceID) error {
	res, err := s.sdb.NewUpdate((*invoiceModel)(nil)).
		Set("status = ?", string(invoice.StatusOverdue)).
		Set("updated_at = ?", now()).
		Where("id = ?", invID.String()).
		Where("status = ?", string(invoice.StatusPending)).
		Exec(ctx)
	if err := affected(res, err, tally.ErrConflict); !errors.Is(err, tally.ErrConflict) {
		return err
	}
	if _, err := s.GetInvoice(ctx, invID); err != nil {
		return err
	}
	return tally.ErrConflict
}

func fromInvoiceModels(models []invoiceModel) ([]*invoice.Invoice, error) {
	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

// ==================== Reminder Store ====================

func (s *Store) CreateReminder(ctx context.Context, r *reminder.Record) error {
	_, err := s.sdb.NewInsert(toReminderModel(r)).Exec(ctx)
	if isUniqueViolation(err) {
		return tally.ErrReminderExists
	}
	return err
}

func (s *Store) ListReminders(ctx context.Context, opts reminder.ListOpts) ([]*reminder.Record, error) {
	var models []reminderModel
	q := s.sdb.NewSelect(&models)
	if !opts.AccountID.IsNil() {
		q = q.Where("account_id = ?", opts.AccountID.String())
	}
	if !opts.CycleID.IsNil() {
		q = q.Where("cycle_id = ?", opts.CycleID.String())
	}
	if !opts.InvoiceID.IsNil() {
		q = q.Where("invoice_id = ?", opts.InvoiceID.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("day_offset ASC, recorded_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*reminder.Record, len(models))
	for i := range models {
		r, err := fromReminderModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) MarkReminderDelivered(ctx context.Context, reminderID id.ReminderID, at time.Time, deliveryErr string) error {
	q := s.sdb.NewUpdate((*reminderModel)(nil)).
		Set("delivery_error = ?", deliveryErr).
		Set("updated_at = ?", at)
	if deliveryErr == "" {
		q = q.Set("delivered_at = ?", at).Where("id = ?", reminderID.String())
	} else {
		q = q.Where("id = ?", reminderID.String())
	}
	res, err := q.Exec(ctx)
	return affected(res, err, tally.ErrNotFound)
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// affected maps a zero-row update to notFound.
func affected(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// constraintName returns the "table.column" list SQLite names in a UNIQUE
// constraint failure.
func constraintName(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.Index(msg, "UNIQUE constraint failed: "); i >= 0 {
		return msg[i+len("UNIQUE constraint failed: "):]
	}
	return ""
}
