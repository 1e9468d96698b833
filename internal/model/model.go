// Package model defines the core domain types shared across the portfolio engine.
// All monetary values and quantities use shopspring/decimal; derived risk
// statistics are plain float64 ratios.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is an immutable record of an executed trade.
// Once appended to the ledger it is never modified or deleted.
type Trade struct {
	ID         int64           `json:"id" db:"id"`               // insertion order, used as tie-break
	UID        string          `json:"trade_uid" db:"trade_uid"` // content hash over normalized fields
	Account    string          `json:"account" db:"account"`
	Symbol     string          `json:"symbol" db:"symbol"`
	TradeDate  time.Time       `json:"trade_date" db:"trade_date"`
	Side       Side            `json:"side" db:"side"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"` // always positive
	Price      decimal.Decimal `json:"price" db:"price"`
	Fees       decimal.Decimal `json:"fees" db:"fees"`
	Currency   string          `json:"currency" db:"currency"`
	BrokerRef  string          `json:"broker_ref,omitempty" db:"broker_ref"`
	ImportedAt time.Time       `json:"imported_at" db:"imported_at"`
}

// PricePoint is a single end-of-day close returned by a market data provider.
type PricePoint struct {
	Symbol     string          `json:"symbol"`
	PriceDate  time.Time       `json:"price_date"`
	ClosePrice decimal.Decimal `json:"close_price"`
	Currency   string          `json:"currency"`
}

// PriceRecord is a stored end-of-day close. (Symbol, PriceDate) is unique.
type PriceRecord struct {
	Symbol     string          `json:"symbol" db:"symbol"`
	PriceDate  time.Time       `json:"price_date" db:"price_date"`
	ClosePrice decimal.Decimal `json:"close_price" db:"close_price"`
	Currency   string          `json:"currency" db:"currency"`
	Source     string          `json:"source" db:"source"` // provider that produced the close
	IngestedAt time.Time       `json:"ingested_at" db:"ingested_at"`
}

// Lot is the replayed state of one (account, symbol) pair. It only lives
// for the duration of one calculation.
type Lot struct {
	Account     string          `json:"account"`
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Currency    string          `json:"currency"`
}

// Position is a Lot joined with the latest known market price.
// Market fields are null when the symbol has no price at or before the snapshot.
type Position struct {
	Account       string              `json:"account"`
	Symbol        string              `json:"symbol"`
	Quantity      decimal.Decimal     `json:"quantity"`
	AvgCost       decimal.Decimal     `json:"avg_cost"`
	CostBasis     decimal.Decimal     `json:"cost_basis"`
	MarketPrice   decimal.NullDecimal `json:"market_price"`
	MarketValue   decimal.NullDecimal `json:"market_value"`
	UnrealizedPnL decimal.NullDecimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal     `json:"realized_pnl"`
	Currency      string              `json:"currency"`
}

// PositionReport is the position list as of a snapshot date.
type PositionReport struct {
	SnapshotDate  CalendarDate `json:"snapshot_date"`
	AccountFilter string       `json:"account_filter,omitempty"`
	Positions     []Position   `json:"positions"`
}

// Metrics aggregates totals and exposures over a position list.
type Metrics struct {
	SnapshotDate       CalendarDate    `json:"snapshot_date"`
	AccountFilter      string          `json:"account_filter,omitempty"`
	TotalPositions     int             `json:"total_positions"`
	SymbolsPriced      int             `json:"symbols_priced"`
	SymbolsUnpriced    int             `json:"symbols_unpriced"`
	TotalMarketValue   decimal.Decimal `json:"total_market_value"`
	TotalCostBasis     decimal.Decimal `json:"total_cost_basis"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	GrossExposure      decimal.Decimal `json:"gross_exposure"` // Σ |market value|
	NetExposure        decimal.Decimal `json:"net_exposure"`   // Σ market value
}

// AnalyticsPoint is one date of the valuation time series.
type AnalyticsPoint struct {
	Date             CalendarDate `json:"date"`
	MarketValue      float64      `json:"market_value"`
	TotalPnL         float64      `json:"total_pnl"`
	DailyReturn      float64      `json:"daily_return"`
	CumulativeReturn float64      `json:"cumulative_return"`
	Drawdown         float64      `json:"drawdown"`
}

// AnalyticsReport holds risk/return statistics derived from the valuation series.
type AnalyticsReport struct {
	SnapshotDate           CalendarDate     `json:"snapshot_date"`
	StartDate              CalendarDate     `json:"start_date"`
	AccountFilter          string           `json:"account_filter,omitempty"`
	AnnualizedVolatility   float64          `json:"annualized_volatility"`
	SharpeRatio            float64          `json:"sharpe_ratio"`
	MaxDrawdown            float64          `json:"max_drawdown"`
	VaR95                  float64          `json:"var_95"`
	CVaR95                 float64          `json:"cvar_95"`
	ConcentrationTopSymbol *string          `json:"concentration_top_symbol"`
	ConcentrationTopWeight float64          `json:"concentration_top_weight"`
	Series                 []AnalyticsPoint `json:"series"`
}

// ComparePoint is one date of the aligned multi-symbol series.
// Values are nil where a symbol has no close on that date (or, for
// Normalized, before its first observation).
type ComparePoint struct {
	Date       CalendarDate        `json:"date"`
	Prices     map[string]*float64 `json:"prices"`
	Normalized map[string]*float64 `json:"normalized"`
}

// CompareSummary describes one symbol's path over the compared range.
type CompareSummary struct {
	Symbol               string   `json:"symbol"`
	StartPrice           *float64 `json:"start_price"`
	EndPrice             *float64 `json:"end_price"`
	ReturnPct            float64  `json:"return_pct"`
	AnnualizedVolatility float64  `json:"annualized_volatility"`
	MaxDrawdown          float64  `json:"max_drawdown"`
	Observations         int      `json:"observations"`
}

// CompareReport is the output of a multi-symbol comparison.
type CompareReport struct {
	StartDate     CalendarDate                  `json:"start_date"`
	EndDate       CalendarDate                  `json:"end_date"`
	Symbols       []string                      `json:"symbols"`
	ProvidersUsed []string                      `json:"providers_used"`
	FailedSymbols []string                      `json:"failed_symbols"`
	Series        []ComparePoint                `json:"series"`
	Summary       []CompareSummary              `json:"summary"`
	Correlation   map[string]map[string]float64 `json:"correlation"`
}

// RefreshResult is the outcome of an end-of-day price refresh.
type RefreshResult struct {
	ProvidersUsed  []string     `json:"providers_used"`
	PriceDate      CalendarDate `json:"price_date"`
	RequestedCount int          `json:"requested_count"`
	ProcessedCount int          `json:"processed_count"`
	FailedSymbols  []string     `json:"failed_symbols"`
	JobRunID       string       `json:"job_run_id"`
}

// SymbolMatch is one listing returned by a company search.
type SymbolMatch struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Exchange  string `json:"exchange"`
	QuoteType string `json:"quote_type"`
}

// SymbolSearchResult echoes the query with its matches.
type SymbolSearchResult struct {
	Query string        `json:"query"`
	Items []SymbolMatch `json:"items"`
}

// Job run statuses.
const (
	JobRunning       = "RUNNING"
	JobSuccess       = "SUCCESS"
	JobPartialFailed = "PARTIAL_FAILED"
	JobFailed        = "FAILED"
)

// JobRun records one execution of a background or on-demand job.
type JobRun struct {
	ID            string     `json:"id" db:"id"`
	JobName       string     `json:"job_name" db:"job_name"`
	Status        string     `json:"status" db:"status"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	RowsProcessed int        `json:"rows_processed" db:"rows_processed"`
	Details       string     `json:"details,omitempty" db:"run_details"` // JSON document
}
