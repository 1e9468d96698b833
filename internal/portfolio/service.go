// Package portfolio exposes the position, analytics, pricing and comparison
// engines as one service, and serves it over HTTP.
//
// Money stays in shopspring/decimal end to end; only derived risk
// statistics are float64.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/atmx/portfolio-engine/internal/analytics"
	"github.com/atmx/portfolio-engine/internal/compare"
	"github.com/atmx/portfolio-engine/internal/ledger"
	"github.com/atmx/portfolio-engine/internal/marketdata"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/pricing"
	"github.com/atmx/portfolio-engine/internal/store"
)

// DefaultCompareWindowDays is the compare range used when no start date is given.
const DefaultCompareWindowDays = 180

// Company search bounds, in characters of the trimmed query.
const (
	MinSearchQuery     = 2
	MaxSearchQuery     = 80
	DefaultSearchLimit = 10
)

// Service answers portfolio queries. Price writes (refresh, compare
// backfill) are serialized so overlapping refreshes apply one after another.
type Service struct {
	store     store.Store
	engine    *analytics.Engine
	refresher *pricing.Refresher
	comparer  *compare.Comparer
	searcher  marketdata.SymbolSearcher
	writeMu   sync.Mutex
	now       func() time.Time
}

// NewService creates a service over st using registry for market data.
func NewService(st store.Store, registry *marketdata.Registry) *Service {
	return &Service{
		store:     st,
		engine:    analytics.NewEngine(st),
		refresher: pricing.NewRefresher(st, registry),
		comparer:  compare.New(st, registry),
		searcher:  marketdata.NewYFinanceSearch(0),
		now:       time.Now,
	}
}

// UseSearcher replaces the company search backend.
func (s *Service) UseSearcher(searcher marketdata.SymbolSearcher) {
	s.searcher = searcher
}

// ImportResult reports the outcome of a trade batch.
type ImportResult struct {
	TotalRows     int `json:"total_rows"`
	ImportedRows  int `json:"imported_rows"`
	DuplicateRows int `json:"duplicate_rows"`
}

// Today is the default snapshot date.
func (s *Service) Today() time.Time {
	return model.Day(s.now().UTC())
}

// ImportTrades validates every row, then appends the batch to the ledger.
// A single invalid row rejects the whole batch; rows already in the ledger
// are counted as duplicates.
func (s *Service) ImportTrades(ctx context.Context, rows []ledger.TradeInput) (*ImportResult, error) {
	if len(rows) == 0 {
		return nil, model.Invalidf("At least one trade is required")
	}

	trades := make([]model.Trade, 0, len(rows))
	for i, in := range rows {
		t, err := ledger.Normalize(in, i+1)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	inserted, duplicates, err := s.store.InsertTrades(ctx, trades)
	if err != nil {
		return nil, fmt.Errorf("insert trades: %w", err)
	}
	metrics.TradesImported.WithLabelValues("inserted").Add(float64(inserted))
	metrics.TradesImported.WithLabelValues("duplicate").Add(float64(duplicates))

	slog.Info("trades imported",
		"total", len(rows),
		"imported", inserted,
		"duplicates", duplicates,
	)
	return &ImportResult{TotalRows: len(rows), ImportedRows: inserted, DuplicateRows: duplicates}, nil
}

// Positions values every lot as of snapshot.
func (s *Service) Positions(ctx context.Context, snapshot time.Time, account string) (*model.PositionReport, error) {
	defer metrics.ObserveSince("positions", time.Now())

	snapshot = model.Day(snapshot)
	positions, err := s.positions(ctx, snapshot, account)
	if err != nil {
		return nil, err
	}
	return &model.PositionReport{SnapshotDate: model.AsDate(snapshot), AccountFilter: account, Positions: positions}, nil
}

// Metrics aggregates the positions as of snapshot.
func (s *Service) Metrics(ctx context.Context, snapshot time.Time, account string) (*model.Metrics, error) {
	defer metrics.ObserveSince("metrics", time.Now())

	snapshot = model.Day(snapshot)
	positions, err := s.positions(ctx, snapshot, account)
	if err != nil {
		return nil, err
	}
	m := pricing.Summarize(positions)
	m.SnapshotDate = model.AsDate(snapshot)
	m.AccountFilter = account
	return &m, nil
}

func (s *Service) positions(ctx context.Context, snapshot time.Time, account string) ([]model.Position, error) {
	trades, err := s.store.ListTrades(ctx, store.TradeFilter{Account: account, Through: snapshot})
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	positions, err := pricing.PositionsAsOf(ctx, s.store, trades, snapshot, account)
	if err != nil {
		return nil, fmt.Errorf("price positions: %w", err)
	}
	return positions, nil
}

// Analytics builds the risk/return report. A zero start uses the earliest
// trade date.
func (s *Service) Analytics(ctx context.Context, snapshot, start time.Time, account string) (*model.AnalyticsReport, error) {
	return s.engine.Report(ctx, snapshot, start, account)
}

// RefreshPrices pulls closes for priceDate through the provider chain.
func (s *Service) RefreshPrices(ctx context.Context, priceDate time.Time, symbols, providers []string) (*model.RefreshResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.refresher.Refresh(ctx, priceDate, symbols, providers)
}

// Compare runs a multi-symbol comparison. A zero end defaults to today and
// a zero start to DefaultCompareWindowDays before end.
func (s *Service) Compare(ctx context.Context, req compare.Request) (*model.CompareReport, error) {
	if req.End.IsZero() {
		req.End = s.Today()
	}
	if req.Start.IsZero() {
		req.Start = model.Day(req.End).AddDate(0, 0, -DefaultCompareWindowDays)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.comparer.Compare(ctx, req)
}

// SearchSymbols looks up listings for a company name or ticker fragment.
// Any backend failure is reported as marketdata.ErrSearchUnavailable.
func (s *Service) SearchSymbols(ctx context.Context, query string) (*model.SymbolSearchResult, error) {
	query = strings.TrimSpace(query)
	if n := utf8.RuneCountInString(query); n < MinSearchQuery || n > MaxSearchQuery {
		return nil, model.Invalidf("q must be between %d and %d characters", MinSearchQuery, MaxSearchQuery)
	}
	defer metrics.ObserveSince("symbol_search", time.Now())

	items, err := s.searcher.SearchSymbols(ctx, query, DefaultSearchLimit)
	if err != nil {
		if !errors.Is(err, marketdata.ErrSearchUnavailable) {
			err = fmt.Errorf("%w: %v", marketdata.ErrSearchUnavailable, err)
		}
		return nil, err
	}
	if items == nil {
		items = []model.SymbolMatch{}
	}
	return &model.SymbolSearchResult{Query: query, Items: items}, nil
}

// Job returns a recorded job run.
func (s *Service) Job(ctx context.Context, id string) (*model.JobRun, error) {
	return s.store.GetJobRun(ctx, id)
}
