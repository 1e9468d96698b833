package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the ledger, price, and job tables. Statements are
// idempotent so Migrate can run on every start.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id          BIGSERIAL PRIMARY KEY,
	trade_uid   TEXT        NOT NULL UNIQUE,
	account     TEXT        NOT NULL,
	symbol      TEXT        NOT NULL,
	trade_date  DATE        NOT NULL,
	side        TEXT        NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity    NUMERIC     NOT NULL CHECK (quantity > 0),
	price       NUMERIC     NOT NULL CHECK (price >= 0),
	fees        NUMERIC     NOT NULL DEFAULT 0 CHECK (fees >= 0),
	currency    TEXT        NOT NULL DEFAULT 'USD',
	broker_ref  TEXT        NOT NULL DEFAULT '',
	imported_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS trades_account_date_idx ON trades (account, trade_date);
CREATE INDEX IF NOT EXISTS trades_symbol_idx ON trades (symbol);

CREATE TABLE IF NOT EXISTS prices_eod (
	symbol      TEXT        NOT NULL,
	price_date  DATE        NOT NULL,
	close_price NUMERIC     NOT NULL,
	currency    TEXT        NOT NULL DEFAULT 'USD',
	source      TEXT        NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (symbol, price_date)
);
CREATE INDEX IF NOT EXISTS prices_eod_date_idx ON prices_eod (price_date);

CREATE TABLE IF NOT EXISTS job_runs (
	id             TEXT        PRIMARY KEY,
	job_name       TEXT        NOT NULL,
	status         TEXT        NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ,
	rows_processed INTEGER     NOT NULL DEFAULT 0,
	run_details    JSONB       NOT NULL DEFAULT '{}'::JSONB
);
`

// SQLiteSchema is the SQLite rendition of PostgresSchema. Dates are stored
// as YYYY-MM-DD text and decimals as their exact string form.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_uid   TEXT NOT NULL UNIQUE,
	account     TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	trade_date  TEXT NOT NULL,
	side        TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity    TEXT NOT NULL,
	price       TEXT NOT NULL,
	fees        TEXT NOT NULL DEFAULT '0',
	currency    TEXT NOT NULL DEFAULT 'USD',
	broker_ref  TEXT NOT NULL DEFAULT '',
	imported_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_account_date_idx ON trades (account, trade_date);

CREATE TABLE IF NOT EXISTS prices_eod (
	symbol      TEXT NOT NULL,
	price_date  TEXT NOT NULL,
	close_price TEXT NOT NULL,
	currency    TEXT NOT NULL DEFAULT 'USD',
	source      TEXT NOT NULL,
	ingested_at TEXT NOT NULL,
	PRIMARY KEY (symbol, price_date)
);

CREATE TABLE IF NOT EXISTS job_runs (
	id             TEXT PRIMARY KEY,
	job_name       TEXT NOT NULL,
	status         TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	finished_at    TEXT,
	rows_processed INTEGER NOT NULL DEFAULT 0,
	run_details    TEXT NOT NULL DEFAULT '{}'
);
`

// Migrate applies PostgresSchema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}
