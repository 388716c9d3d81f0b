package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

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

// Collection name constants.
const (
	colAccounts    = "tally_accounts"
	colTiers       = "tally_tiers"
	colCycles      = "tally_cycles"
	colUsageEvents = "tally_usage_events"
	colInvoices    = "tally_invoices"
	colReminders   = "tally_reminders"
)

// Unique index names, used to tell duplicate key errors apart.
const (
	idxOneOpenCycle    = "uniq_open_cycle"
	idxUsageKey        = "uniq_usage_idempotency"
	idxInvoiceForCycle = "uniq_standard_invoice"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all tally collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("tally/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(toAccountModel(a)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tally.ErrAlreadyExists
		}
		return fmt.Errorf("tally/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": accountID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrAccountNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var models []accountModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list accounts: %w", err)
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
	res, err := s.mdb.NewUpdate((*accountModel)(nil)).
		Filter(bson.M{"_id": a.ID.String()}).
		Set("name", a.Name).
		Set("tax_id", a.TaxID).
		Set("tier", a.Tier).
		Set("founding", a.Founding).
		Set("pilot", a.Pilot).
		Set("currency", a.Currency).
		Set("metadata", a.Metadata).
		Set("updated_at", a.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update account: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tally.ErrAccountNotFound
	}
	return nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, accountID id.AccountID, from, to subscription.State, at time.Time) error {
	res, err := s.mdb.NewUpdate((*accountModel)(nil)).
		Filter(bson.M{"_id": accountID.String(), "status": string(from)}).
		Set("status", string(to)).
		Set("status_changed_at", at).
		Set("updated_at", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update account status: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetAccount(ctx, accountID); err != nil {
			return err
		}
		return tally.ErrConflict
	}
	return nil
}

// ==================== Tier Store ====================

func (s *Store) CreateTier(ctx context.Context, d *tier.Definition) error {
	_, err := s.mdb.NewInsert(toTierModel(d)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tally.ErrAlreadyExists
		}
		return fmt.Errorf("tally/mongo: create tier: %w", err)
	}
	return nil
}

func (s *Store) GetTier(ctx context.Context, tierID id.TierID) (*tier.Definition, error) {
	var m tierModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": tierID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrTierNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get tier: %w", err)
	}
	return fromTierModel(&m)
}

func (s *Store) GetLatestTier(ctx context.Context, name string) (*tier.Definition, error) {
	var m tierModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"name": name}).
		Sort(bson.D{{Key: "version", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrTierNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get latest tier: %w", err)
	}
	return fromTierModel(&m)
}

func (s *Store) ListTiers(ctx context.Context, name string) ([]*tier.Definition, error) {
	var models []tierModel

	filter := bson.M{}
	if name != "" {
		filter["name"] = name
	}

	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "name", Value: 1}, {Key: "version", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list tiers: %w", err)
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
	_, err := s.mdb.NewInsert(toCycleModel(c)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), idxOneOpenCycle) {
				return tally.ErrOpenCycleExists
			}
			return tally.ErrAlreadyExists
		}
		return fmt.Errorf("tally/mongo: create cycle: %w", err)
	}
	return nil
}

func (s *Store) GetCycle(ctx context.Context, cycleID id.CycleID) (*cycle.Cycle, error) {
	return s.findCycle(ctx, tally.ErrCycleNotFound, bson.M{"_id": cycleID.String()})
}

func (s *Store) GetOpenCycle(ctx context.Context, accountID id.AccountID) (*cycle.Cycle, error) {
	return s.findCycle(ctx, tally.ErrNoOpenCycle, bson.M{
		"account_id": accountID.String(),
		"status":     string(cycle.StatusOpen),
	})
}

func (s *Store) GetCycleByStart(ctx context.Context, accountID id.AccountID, start time.Time) (*cycle.Cycle, error) {
	return s.findCycle(ctx, tally.ErrCycleNotFound, bson.M{
		"account_id":   accountID.String(),
		"period_start": start,
	})
}

func (s *Store) findCycle(ctx context.Context, notFound error, filter bson.M) (*cycle.Cycle, error) {
	var m cycleModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, notFound
		}
		return nil, fmt.Errorf("tally/mongo: get cycle: %w", err)
	}
	return fromCycleModel(&m)
}

func (s *Store) ListCycles(ctx context.Context, accountID id.AccountID, opts cycle.ListOpts) ([]*cycle.Cycle, error) {
	var models []cycleModel

	filter := bson.M{"account_id": accountID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "period_start", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list cycles: %w", err)
	}
	return fromCycleModels(models)
}

func (s *Store) ListDueCycles(ctx context.Context, before time.Time, limit int) ([]*cycle.Cycle, error) {
	var models []cycleModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":     string(cycle.StatusOpen),
			"period_end": bson.M{"$lte": before},
		}).
		Sort(bson.D{{Key: "period_end", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list due cycles: %w", err)
	}
	return fromCycleModels(models)
}

func (s *Store) ListUninvoicedCycles(ctx context.Context, closedBefore time.Time, limit int) ([]*cycle.Cycle, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{
			"status":    string(cycle.StatusClosed),
			"closed_at": bson.M{"$lte": closedBefore},
		}},
		bson.M{"$lookup": bson.M{
			"from": colInvoices,
			"let":  bson.M{"cid": "$_id"},
			"pipeline": bson.A{
				bson.M{"$match": bson.M{"$expr": bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$cycle_id", "$$cid"}},
					bson.M{"$eq": bson.A{"$kind", string(invoice.KindStandard)}},
				}}}},
				bson.M{"$limit": 1},
			},
			"as": "billed",
		}},
		bson.M{"$match": bson.M{"billed": bson.M{"$size": 0}}},
		bson.M{"$project": bson.M{"billed": 0}},
		bson.M{"$sort": bson.M{"closed_at": 1}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.M{"$limit": limit})
	}

	cursor, err := s.mdb.Collection(colCycles).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list uninvoiced cycles: %w", err)
	}
	defer cursor.Close(ctx)

	var models []cycleModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("tally/mongo: list uninvoiced cycles decode: %w", err)
	}
	return fromCycleModels(models)
}

func (s *Store) CloseCycle(ctx context.Context, cycleID id.CycleID, end, closedAt time.Time) error {
	res, err := s.mdb.NewUpdate((*cycleModel)(nil)).
		Filter(bson.M{"_id": cycleID.String(), "status": string(cycle.StatusOpen)}).
		Set("status", string(cycle.StatusClosed)).
		Set("period_end", end).
		Set("closed_at", closedAt).
		Set("updated_at", closedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: close cycle: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetCycle(ctx, cycleID); err != nil {
			return err
		}
		return tally.ErrCycleNotOpen
	}
	return nil
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
	_, err := s.mdb.NewInsert(toUsageEventModel(e)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), idxUsageKey) {
				return tally.ErrDuplicateEvent
			}
			return tally.ErrAlreadyExists
		}
		return fmt.Errorf("tally/mongo: append usage: %w", err)
	}
	return nil
}

func (s *Store) AggregateUsage(ctx context.Context, accountID id.AccountID, start, end time.Time) (meter.Counts, error) {
	pipeline := bson.A{
		bson.M{
			"$match": bson.M{
				"account_id": accountID.String(),
				"timestamp":  bson.M{"$gte": start, "$lt": end},
			},
		},
		bson.M{
			"$group": bson.M{
				"_id":   "$category",
				"total": bson.M{"$sum": "$quantity"},
			},
		},
	}

	cursor, err := s.mdb.Collection(colUsageEvents).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: aggregate: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Category string `bson:"_id"`
		Total    int64  `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("tally/mongo: aggregate decode: %w", err)
	}

	counts := make(meter.Counts, len(results))
	for _, r := range results {
		counts[meter.Category(r.Category)] = r.Total
	}
	return counts, nil
}

func (s *Store) QueryUsage(ctx context.Context, accountID id.AccountID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	var models []usageEventModel

	filter := bson.M{"account_id": accountID.String()}
	if opts.Category != "" {
		filter["category"] = string(opts.Category)
	}
	ts := bson.M{}
	if !opts.Start.IsZero() {
		ts["$gte"] = opts.Start
	}
	if !opts.End.IsZero() {
		ts["$lt"] = opts.End
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "timestamp", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: query usage: %w", err)
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
	_, err := s.mdb.NewInsert(toInvoiceModel(inv)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), idxInvoiceForCycle) {
				return tally.ErrInvoiceExists
			}
			return tally.ErrAlreadyExists
		}
		return fmt.Errorf("tally/mongo: create invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{"_id": invID.String()})
}

func (s *Store) GetInvoiceByCycle(ctx context.Context, accountID id.AccountID, cycleID id.CycleID) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{
		"account_id": accountID.String(),
		"cycle_id":   cycleID.String(),
		"kind":       string(invoice.KindStandard),
	})
}

func (s *Store) findInvoice(ctx context.Context, filter bson.M) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, accountID id.AccountID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel

	filter := bson.M{"account_id": accountID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "issued_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list invoices: %w", err)
	}
	return fromInvoiceModels(models)
}

func (s *Store) ListUnpaidInvoices(ctx context.Context, limit int) ([]*invoice.Invoice, error) {
	var models []invoiceModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"status": bson.M{"$in": []string{
			string(invoice.StatusPending),
			string(invoice.StatusOverdue),
		}}}).
		Sort(bson.D{{Key: "due_date", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list unpaid invoices: %w", err)
	}
	return fromInvoiceModels(models)
}

func (s *Store) MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error {
	res, err := s.mdb.NewUpdate((*invoiceModel)(nil)).
		Filter(bson.M{
			"_id": invID.String(),
			"status": bson.M{"$in": []string{
				string(invoice.StatusPending),
				string(invoice.StatusOverdue),
			}},
		}).
		Set("status", string(invoice.StatusPaid)).
		Set("paid_at", paidAt).
		Set("payment_ref", paymentRef).
		Set("updated_at", paidAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: mark invoice paid: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetInvoice(ctx, invID); err != nil {
			return err
		}
		return tally.ErrInvoiceNotPayable
	}
	return nil
}

func (s *Store) MarkInvoiceOverdue(ctx context.Context, invID id.InvoiceID) error {
	res, err := s.mdb.NewUpdate((*invoiceModel)(nil)).
		Filter(bson.M{"_id": invID.String(), "status": string(invoice.StatusPending)}).
		Set("status", string(invoice.StatusOverdue)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: mark invoice overdue: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetInvoice(ctx, invID); err != nil {
			return err
		}
		return tally.ErrConflict
	}
	return nil
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
	_, err := s.mdb.NewInsert(toReminderModel(r)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tally.ErrReminderExists
		}
		return fmt.Errorf("tally/mongo: create reminder: %w", err)
	}
	return nil
}

func (s *Store) ListReminders(ctx context.Context, opts reminder.ListOpts) ([]*reminder.Record, error) {
	var models []reminderModel

	filter := bson.M{}
	if !opts.AccountID.IsNil() {
		filter["account_id"] = opts.AccountID.String()
	}
	if !opts.CycleID.IsNil() {
		filter["cycle_id"] = opts.CycleID.String()
	}
	if !opts.InvoiceID.IsNil() {
		filter["invoice_id"] = opts.InvoiceID.String()
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "day_offset", Value: 1}, {Key: "recorded_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list reminders: %w", err)
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
	q := s.mdb.NewUpdate((*reminderModel)(nil)).
		Filter(bson.M{"_id": reminderID.String()}).
		Set("delivery_error", deliveryErr).
		Set("updated_at", at)
	if deliveryErr == "" {
		q = q.Set("delivered_at", at)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: mark reminder delivered: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tally.ErrNotFound
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all tally collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colTiers: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}, {Key: "version", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colCycles: {
			{
				Keys: bson.D{{Key: "account_id", Value: 1}},
				Options: options.Index().
					SetName(idxOneOpenCycle).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"status": string(cycle.StatusOpen)}),
			},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "period_start", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "period_end", Value: 1}}},
		},
		colUsageEvents: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "timestamp", Value: 1}}},
			{
				Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().
					SetName(idxUsageKey).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$type": "string"}}),
			},
		},
		colInvoices: {
			{
				Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "cycle_id", Value: 1}},
				Options: options.Index().
					SetName(idxInvoiceForCycle).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"kind": string(invoice.KindStandard)}),
			},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "issued_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_date", Value: 1}}},
		},
		colReminders: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "cycle_id", Value: 1}, {Key: "type", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "invoice_id", Value: 1}}},
		},
	}
}
