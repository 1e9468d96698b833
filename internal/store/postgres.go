package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/ledger"
	"github.com/atmx/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Trade ledger ---

func (s *PostgresStore) InsertTrades(ctx context.Context, trades []model.Trade) (int, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin insert trades: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted, duplicates := 0, 0
	for _, t := range trades {
		if t.UID == "" {
			t.UID = ledger.TradeUID(t)
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO trades (trade_uid, account, symbol, trade_date, side, quantity, price, fees, currency, broker_ref)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)
			 ON CONFLICT (trade_uid) DO NOTHING`,
			t.UID, t.Account, t.Symbol, model.Day(t.TradeDate), string(t.Side),
			t.Quantity.String(), t.Price.String(), t.Fees.String(),
			t.Currency, t.BrokerRef,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("insert trade %s: %w", t.UID, err)
		}
		if tag.RowsAffected() == 0 {
			duplicates++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit insert trades: %w", err)
	}
	return inserted, duplicates, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error) {
	var through *time.Time
	if !f.Through.IsZero() {
		day := model.Day(f.Through)
		through = &day
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, trade_uid, account, symbol, trade_date, side,
		        quantity::TEXT, price::TEXT, fees::TEXT,
		        currency, broker_ref, imported_at
		 FROM trades
		 WHERE ($1 = '' OR account = $1)
		   AND ($2::DATE IS NULL OR trade_date <= $2::DATE)
		 ORDER BY trade_date, id`, f.Account, through)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradedSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM trades ORDER BY symbol`)
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

func (s *PostgresStore) UpsertPrices(ctx context.Context, records []model.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		ingested := r.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO prices_eod (symbol, price_date, close_price, currency, source, ingested_at)
			 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)
			 ON CONFLICT (symbol, price_date) DO UPDATE
			 SET close_price = EXCLUDED.close_price,
			     currency    = EXCLUDED.currency,
			     source      = EXCLUDED.source,
			     ingested_at = EXCLUDED.ingested_at`,
			r.Symbol, model.Day(r.PriceDate), r.ClosePrice.String(), r.Currency, r.Source, ingested,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert prices: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert prices: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) LatestPricesAsOf(ctx context.Context, symbols []string, asOf time.Time) (map[string]model.PriceRecord, error) {
	out := make(map[string]model.PriceRecord, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (symbol)
		        symbol, price_date, close_price::TEXT, currency, source, ingested_at
		 FROM prices_eod
		 WHERE symbol = ANY($1) AND price_date <= $2
		 ORDER BY symbol, price_date DESC`, symbols, model.Day(asOf))
	if err != nil {
		return nil, fmt.Errorf("latest prices as of %s: %w", model.FormatDate(asOf), err)
	}
	defer rows.Close()

	records, err := scanPrices(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		out[r.Symbol] = r
	}
	return out, nil
}

func (s *PostgresStore) PricesInRange(ctx context.Context, symbols []string, start, end time.Time) ([]model.PriceRecord, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, price_date, close_price::TEXT, currency, source, ingested_at
		 FROM prices_eod
		 WHERE symbol = ANY($1) AND price_date BETWEEN $2 AND $3
		 ORDER BY price_date, symbol`, symbols, model.Day(start), model.Day(end))
	if err != nil {
		return nil, fmt.Errorf("prices in range: %w", err)
	}
	defer rows.Close()

	return scanPrices(rows)
}

func (s *PostgresStore) PriceDates(ctx context.Context, symbols []string, start, end time.Time) ([]time.Time, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT price_date
		 FROM prices_eod
		 WHERE symbol = ANY($1) AND price_date BETWEEN $2 AND $3
		 ORDER BY price_date`, symbols, model.Day(start), model.Day(end))
	if err != nil {
		return nil, fmt.Errorf("price dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, model.Day(d))
	}
	return dates, rows.Err()
}

// --- Job runs ---

func (s *PostgresStore) CreateJobRun(ctx context.Context, run *model.JobRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (id, job_name, status, started_at, rows_processed, run_details)
		 VALUES ($1, $2, $3, $4, $5, $6::JSONB)`,
		run.ID, run.JobName, run.Status, run.StartedAt, run.RowsProcessed, detailsOrEmpty(run.Details),
	)
	if err != nil {
		return fmt.Errorf("create job run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PostgresStore) FinishJobRun(ctx context.Context, run *model.JobRun) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs
		 SET status = $2, finished_at = $3, rows_processed = $4, run_details = $5::JSONB
		 WHERE id = $1`,
		run.ID, run.Status, run.FinishedAt, run.RowsProcessed, detailsOrEmpty(run.Details),
	)
	if err != nil {
		return fmt.Errorf("finish job run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetJobRun(ctx context.Context, id string) (*model.JobRun, error) {
	var run model.JobRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_name, status, started_at, finished_at, rows_processed, run_details::TEXT
		 FROM job_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.JobName, &run.Status, &run.StartedAt, &run.FinishedAt,
			&run.RowsProcessed, &run.Details)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job run %s: %w", id, err)
	}
	return &run, nil
}

// rowScanner is satisfied by pgx.Rows and *sql.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanTrades reads trade rows whose decimal columns are rendered as text.
func scanTrades(rows rowScanner) ([]model.Trade, error) {
	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var side, qtyS, priceS, feesS string
		if err := rows.Scan(&t.ID, &t.UID, &t.Account, &t.Symbol, &t.TradeDate, &side,
			&qtyS, &priceS, &feesS,
			&t.Currency, &t.BrokerRef, &t.ImportedAt); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.TradeDate = model.Day(t.TradeDate)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Fees, _ = decimal.NewFromString(feesS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// scanPrices reads price rows whose close column is rendered as text.
func scanPrices(rows rowScanner) ([]model.PriceRecord, error) {
	var records []model.PriceRecord
	for rows.Next() {
		var r model.PriceRecord
		var closeS string
		if err := rows.Scan(&r.Symbol, &r.PriceDate, &closeS, &r.Currency, &r.Source, &r.IngestedAt); err != nil {
			return nil, err
		}
		r.PriceDate = model.Day(r.PriceDate)
		r.ClosePrice, _ = decimal.NewFromString(closeS)
		records = append(records, r)
	}
	return records, rows.Err()
}

func detailsOrEmpty(details string) string {
	if details == "" {
		return "{}"
	}
	return details
}
