package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Tally store.
var Migrations = migrate.NewGroup("tally")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tally_accounts",
			Version: "20240301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_accounts (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL DEFAULT '',
    tax_id            TEXT NOT NULL DEFAULT '',
    tier              TEXT NOT NULL DEFAULT '',
    founding          BOOLEAN NOT NULL DEFAULT FALSE,
    pilot             BOOLEAN NOT NULL DEFAULT FALSE,
    status            TEXT NOT NULL DEFAULT 'trial',
    currency          TEXT NOT NULL DEFAULT '',
    status_changed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    metadata          JSONB NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_accounts_status ON tally_accounts (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_tiers",
			Version: "20240301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_tiers (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    version    INT NOT NULL,
    currency   TEXT NOT NULL,
    flat_fee   BIGINT NOT NULL DEFAULT 0,
    included   JSONB NOT NULL DEFAULT '{}',
    unit_price JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_tiers_name_version ON tally_tiers (name, version);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_tiers`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_cycles",
			Version: "20240301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_cycles (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    tier_id      TEXT NOT NULL,
    previous_id  TEXT NOT NULL DEFAULT '',
    label        TEXT NOT NULL DEFAULT '',
    period_start TIMESTAMPTZ NOT NULL,
    period_end   TIMESTAMPTZ NOT NULL,
    anchor_day   INT NOT NULL DEFAULT 1,
    status       TEXT NOT NULL DEFAULT 'open',
    closed_at    TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_cycles_one_open ON tally_cycles (account_id) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_tally_cycles_account_start ON tally_cycles (account_id, period_start);
CREATE INDEX IF NOT EXISTS idx_tally_cycles_due ON tally_cycles (period_end) WHERE status = 'open';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_cycles`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_usage_events",
			Version: "20240301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_usage_events (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    category        TEXT NOT NULL,
    quantity        BIGINT NOT NULL DEFAULT 0,
    timestamp       TIMESTAMPTZ NOT NULL,
    idempotency_key TEXT NOT NULL DEFAULT '',
    source          TEXT NOT NULL DEFAULT '',
    metadata        JSONB NOT NULL DEFAULT '{}',
    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_usage_account_ts ON tally_usage_events (account_id, timestamp);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_usage_idempotency ON tally_usage_events (account_id, idempotency_key) WHERE idempotency_key != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_usage_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_invoices",
			Version: "20240301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_invoices (
    id                TEXT PRIMARY KEY,
    account_id        TEXT NOT NULL,
    cycle_id          TEXT NOT NULL,
    flat_fee_cycle_id TEXT NOT NULL DEFAULT '',
    kind              TEXT NOT NULL DEFAULT 'standard',
    corrects_id       TEXT NOT NULL DEFAULT '',
    reason            TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending',
    currency          TEXT NOT NULL,
    tier_id           TEXT NOT NULL DEFAULT '',
    flat_fee          BIGINT NOT NULL DEFAULT 0,
    usage_charges     BIGINT NOT NULL DEFAULT 0,
    discount_total    BIGINT NOT NULL DEFAULT 0,
    subtotal          BIGINT NOT NULL DEFAULT 0,
    total             BIGINT NOT NULL DEFAULT 0,
    line_items        JSONB NOT NULL DEFAULT '[]',
    discounts         JSONB NOT NULL DEFAULT '[]',
    conversion        JSONB,
    period_start      TIMESTAMPTZ NOT NULL,
    period_end        TIMESTAMPTZ NOT NULL,
    due_date          TIMESTAMPTZ NOT NULL,
    issued_at         TIMESTAMPTZ NOT NULL,
    paid_at           TIMESTAMPTZ,
    payment_ref       TEXT NOT NULL DEFAULT '',
    charge_digest     TEXT NOT NULL DEFAULT '',
    flagged           BOOLEAN NOT NULL DEFAULT FALSE,
    summary           TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_invoices_cycle ON tally_invoices (account_id, cycle_id) WHERE kind = 'standard';
CREATE INDEX IF NOT EXISTS idx_tally_invoices_account ON tally_invoices (account_id, issued_at);
CREATE INDEX IF NOT EXISTS idx_tally_invoices_unpaid ON tally_invoices (due_date) WHERE status IN ('pending', 'overdue');
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_invoices`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_reminders",
			Version: "20240301000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_reminders (
    id             TEXT PRIMARY KEY,
    account_id     TEXT NOT NULL,
    cycle_id       TEXT NOT NULL,
    invoice_id     TEXT NOT NULL,
    type           TEXT NOT NULL,
    day_offset     INT NOT NULL DEFAULT 0,
    due_date       TIMESTAMPTZ NOT NULL,
    recorded_at    TIMESTAMPTZ NOT NULL,
    delivered_at   TIMESTAMPTZ,
    delivery_error TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_reminders_key ON tally_reminders (account_id, cycle_id, type);
CREATE INDEX IF NOT EXISTS idx_tally_reminders_invoice ON tally_reminders (invoice_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_reminders`)
				return err
			},
		},
	)
}
