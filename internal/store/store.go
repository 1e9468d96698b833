// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth), SQLite (single-node
// deployments), Redis (as-of price cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/portfolio-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// TradeFilter narrows a ledger read.
type TradeFilter struct {
	Account string    // empty matches every account
	Through time.Time // zero means no upper bound on trade date
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis caches as-of price lookups.
type Store interface {
	TradeStore
	PriceStore
	JobStore
}

// TradeStore is the append-only trade ledger.
type TradeStore interface {
	// InsertTrades appends trades, skipping any whose UID is already stored.
	// IDs and import timestamps are assigned by the store.
	InsertTrades(ctx context.Context, trades []model.Trade) (inserted, duplicates int, err error)

	// ListTrades returns the matching trades ordered by trade date then ID.
	ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error)

	// TradedSymbols returns every distinct symbol in the ledger, sorted.
	TradedSymbols(ctx context.Context) ([]string, error)
}

// PriceStore holds end-of-day closes keyed by (symbol, price date).
type PriceStore interface {
	// UpsertPrices inserts or replaces closes keyed by (symbol, price date).
	UpsertPrices(ctx context.Context, records []model.PriceRecord) error

	// LatestPricesAsOf returns, per symbol, the close with the greatest
	// price date not after asOf. Unpriced symbols are absent.
	LatestPricesAsOf(ctx context.Context, symbols []string, asOf time.Time) (map[string]model.PriceRecord, error)

	// PricesInRange returns closes for symbols dated in [start, end],
	// ordered by price date then symbol.
	PricesInRange(ctx context.Context, symbols []string, start, end time.Time) ([]model.PriceRecord, error)

	// PriceDates returns the distinct price dates in [start, end] on which
	// any of symbols has a close, ascending.
	PriceDates(ctx context.Context, symbols []string, start, end time.Time) ([]time.Time, error)
}

// JobStore records background job runs.
type JobStore interface {
	// CreateJobRun records a job that has started.
	CreateJobRun(ctx context.Context, run *model.JobRun) error

	// FinishJobRun stores the final status, row count, and details of a run.
	FinishJobRun(ctx context.Context, run *model.JobRun) error

	// GetJobRun retrieves a run by ID, or ErrNotFound.
	GetJobRun(ctx context.Context, id string) (*model.JobRun, error)
}
