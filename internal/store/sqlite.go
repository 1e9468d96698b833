package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/atmx/portfolio-engine/internal/ledger"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/pricing"
)

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// SQLiteSchema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Every connection to :memory: is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Trade ledger ---

func (s *SQLiteStore) InsertTrades(ctx context.Context, trades []model.Trade) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin insert trades: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := formatTimestamp(time.Now())
	inserted, duplicates := 0, 0
	for _, t := range trades {
		if t.UID == "" {
			t.UID = ledger.TradeUID(t)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO trades (trade_uid, account, symbol, trade_date, side, quantity, price, fees, currency, broker_ref, imported_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (trade_uid) DO NOTHING`,
			t.UID, t.Account, t.Symbol, model.FormatDate(t.TradeDate), string(t.Side),
			t.Quantity.String(), t.Price.String(), t.Fees.String(),
			t.Currency, t.BrokerRef, now,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("insert trade %s: %w", t.UID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			duplicates++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit insert trades: %w", err)
	}
	return inserted, duplicates, nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error) {
	query := `SELECT id, trade_uid, account, symbol, trade_date, side, quantity, price, fees, currency, broker_ref, imported_at
	          FROM trades WHERE 1 = 1`
	var args []any
	if f.Account != "" {
		query += ` AND account = ?`
		args = append(args, f.Account)
	}
	if !f.Through.IsZero() {
		query += ` AND trade_date <= ?`
		args = append(args, model.FormatDate(f.Through))
	}
	query += ` ORDER BY trade_date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var dateS, side, qtyS, priceS, feesS, importedS string
		if err := rows.Scan(&t.ID, &t.UID, &t.Account, &t.Symbol, &dateS, &side,
			&qtyS, &priceS, &feesS, &t.Currency, &t.BrokerRef, &importedS); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.TradeDate, _ = time.Parse(model.DateLayout, dateS)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Fees, _ = decimal.NewFromString(feesS)
		t.ImportedAt = parseTimestamp(importedS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) TradedSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM trades ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("traded symbols: %w", err)
	}
	defer rows.Close()

	symbols := []string{}
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// --- End-of-day prices ---

func (s *SQLiteStore) UpsertPrices(ctx context.Context, records []model.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert prices: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO prices_eod (symbol, price_date, close_price, currency, source, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (symbol, price_date) DO UPDATE
		 SET close_price = excluded.close_price,
		     currency    = excluded.currency,
		     source      = excluded.source,
		     ingested_at = excluded.ingested_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert prices: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		ingested := r.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			r.Symbol, model.FormatDate(r.PriceDate), r.ClosePrice.String(),
			r.Currency, r.Source, formatTimestamp(ingested),
		); err != nil {
			return fmt.Errorf("upsert price %s %s: %w", r.Symbol, model.FormatDate(r.PriceDate), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LatestPricesAsOf(ctx context.Context, symbols []string, asOf time.Time) (map[string]model.PriceRecord, error) {
	if len(symbols) == 0 {
		return map[string]model.PriceRecord{}, nil
	}

	in, args := inClause(symbols)
	args = append(args, model.FormatDate(asOf))
	rows, err := s.queryPrices(ctx,
		`SELECT symbol, price_date, close_price, currency, source, ingested_at
		 FROM prices_eod p
		 WHERE symbol IN (`+in+`)
		   AND price_date = (SELECT MAX(price_date) FROM prices_eod
		                     WHERE symbol = p.symbol AND price_date <= ?)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("latest prices as of %s: %w", model.FormatDate(asOf), err)
	}
	return pricing.AsOf(rows, symbols, asOf), nil
}

func (s *SQLiteStore) PricesInRange(ctx context.Context, symbols []string, start, end time.Time) ([]model.PriceRecord, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	in, args := inClause(symbols)
	args = append(args, model.FormatDate(start), model.FormatDate(end))
	rows, err := s.queryPrices(ctx,
		`SELECT symbol, price_date, close_price, currency, source, ingested_at
		 FROM prices_eod
		 WHERE symbol IN (`+in+`) AND price_date BETWEEN ? AND ?
		 ORDER BY price_date, symbol`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("prices in range: %w", err)
	}
	return rows, nil
}

func (s *SQLiteStore) PriceDates(ctx context.Context, symbols []string, start, end time.Time) ([]time.Time, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	in, args := inClause(symbols)
	args = append(args, model.FormatDate(start), model.FormatDate(end))
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT price_date FROM prices_eod
		 WHERE symbol IN (`+in+`) AND price_date BETWEEN ? AND ?
		 ORDER BY price_date`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("price dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		d, err := time.Parse(model.DateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("parse price date %q: %w", raw, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (s *SQLiteStore) queryPrices(ctx context.Context, query string, args ...any) ([]model.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.PriceRecord
	for rows.Next() {
		var r model.PriceRecord
		var dateS, closeS, ingestedS string
		if err := rows.Scan(&r.Symbol, &dateS, &closeS, &r.Currency, &r.Source, &ingestedS); err != nil {
			return nil, err
		}
		r.PriceDate, _ = time.Parse(model.DateLayout, dateS)
		r.ClosePrice, _ = decimal.NewFromString(closeS)
		r.IngestedAt = parseTimestamp(ingestedS)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Job runs ---

func (s *SQLiteStore) CreateJobRun(ctx context.Context, run *model.JobRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, job_name, status, started_at, rows_processed, run_details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobName, run.Status, formatTimestamp(run.StartedAt), run.RowsProcessed, detailsOrEmpty(run.Details),
	)
	if err != nil {
		return fmt.Errorf("create job run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FinishJobRun(ctx context.Context, run *model.JobRun) error {
	var finished sql.NullString
	if run.FinishedAt != nil {
		finished = sql.NullString{String: formatTimestamp(*run.FinishedAt), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, finished_at = ?, rows_processed = ?, run_details = ? WHERE id = ?`,
		run.Status, finished, run.RowsProcessed, detailsOrEmpty(run.Details), run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish job run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetJobRun(ctx context.Context, id string) (*model.JobRun, error) {
	var run model.JobRun
	var startedS string
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_name, status, started_at, finished_at, rows_processed, run_details
		 FROM job_runs WHERE id = ?`, id).
		Scan(&run.ID, &run.JobName, &run.Status, &startedS, &finished, &run.RowsProcessed, &run.Details)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job run %s: %w", id, err)
	}
	run.StartedAt = parseTimestamp(startedS)
	if finished.Valid {
		t := parseTimestamp(finished.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

func inClause(symbols []string) (string, []any) {
	args := make([]any, len(symbols))
	for i, s := range symbols {
		args[i] = s
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ","), args
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
