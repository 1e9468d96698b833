// Package analytics derives a portfolio valuation time series from the
// trade ledger and stored closes, and summarizes it into risk and return
// statistics.
//
// Every timeline date is valued by replaying the ledger up to that date and
// joining the most recent close at or before it, so gaps in price history
// (weekends, holidays, missing provider data) carry the last known close.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/ledger"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/pricing"
	"github.com/atmx/portfolio-engine/internal/store"
)

// Store is the read access the engine needs.
type Store interface {
	ListTrades(ctx context.Context, f store.TradeFilter) ([]model.Trade, error)
	LatestPricesAsOf(ctx context.Context, symbols []string, asOf time.Time) (map[string]model.PriceRecord, error)
	PricesInRange(ctx context.Context, symbols []string, start, end time.Time) ([]model.PriceRecord, error)
	PriceDates(ctx context.Context, symbols []string, start, end time.Time) ([]time.Time, error)
}

// Engine computes analytics reports.
type Engine struct {
	store Store
}

// NewEngine creates an Engine over st.
func NewEngine(st Store) *Engine {
	return &Engine{store: st}
}

// Report builds the analytics report as of snapshot. A zero start defaults
// to the earliest trade date; a start after snapshot is clamped to it.
func (e *Engine) Report(ctx context.Context, snapshot, start time.Time, account string) (*model.AnalyticsReport, error) {
	defer metrics.ObserveSince("analytics", time.Now())

	snapshot = model.Day(snapshot)
	trades, err := e.store.ListTrades(ctx, store.TradeFilter{Account: account, Through: snapshot})
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	if len(trades) == 0 {
		reportStart := snapshot
		if !start.IsZero() {
			reportStart = model.Day(start)
		}
		return &model.AnalyticsReport{
			SnapshotDate:  model.AsDate(snapshot),
			StartDate:     model.AsDate(reportStart),
			AccountFilter: account,
			Series:        []model.AnalyticsPoint{},
		}, nil
	}

	effectiveStart := model.Day(start)
	if start.IsZero() {
		effectiveStart, _ = ledger.EarliestDate(trades)
	}
	if effectiveStart.After(snapshot) {
		effectiveStart = snapshot
	}

	symbols := ledger.Symbols(trades)
	timeline, err := e.store.PriceDates(ctx, symbols, effectiveStart, snapshot)
	if err != nil {
		return nil, fmt.Errorf("price dates: %w", err)
	}
	if len(timeline) == 0 {
		timeline = []time.Time{snapshot}
	}

	book, err := e.loadBook(ctx, symbols, effectiveStart, snapshot)
	if err != nil {
		return nil, err
	}

	series := valuationSeries(trades, account, timeline, book)

	returns := make([]float64, 0, len(series))
	maxDD := 0.0
	for i, p := range series {
		if i > 0 {
			returns = append(returns, p.DailyReturn)
		}
		maxDD = min(maxDD, p.Drawdown)
	}

	report := &model.AnalyticsReport{
		SnapshotDate:         model.AsDate(snapshot),
		StartDate:            model.AsDate(effectiveStart),
		AccountFilter:        account,
		AnnualizedVolatility: AnnualizedVolatility(returns),
		SharpeRatio:          Sharpe(returns),
		MaxDrawdown:          maxDD,
		Series:               series,
	}
	if len(returns) > 0 {
		report.VaR95 = VaR95(returns)
		report.CVaR95 = CVaR95(returns, report.VaR95)
	}

	latest, err := pricing.PositionsAsOf(ctx, e.store, trades, snapshot, account)
	if err != nil {
		return nil, fmt.Errorf("snapshot positions: %w", err)
	}
	report.ConcentrationTopSymbol, report.ConcentrationTopWeight = Concentration(latest)
	return report, nil
}

// priceBook holds, per symbol, closes in ascending date order. The first
// entry may predate the analysis window to seed the as-of join.
type priceBook map[string][]model.PriceRecord

func (e *Engine) loadBook(ctx context.Context, symbols []string, start, end time.Time) (priceBook, error) {
	seed, err := e.store.LatestPricesAsOf(ctx, symbols, start.AddDate(0, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("seed prices: %w", err)
	}
	rows, err := e.store.PricesInRange(ctx, symbols, start, end)
	if err != nil {
		return nil, fmt.Errorf("prices in range: %w", err)
	}

	book := make(priceBook, len(symbols))
	for _, sym := range symbols {
		if r, ok := seed[sym]; ok {
			book[sym] = append(book[sym], r)
		}
	}
	for _, r := range rows {
		book[r.Symbol] = append(book[r.Symbol], r)
	}
	for sym := range book {
		recs := book[sym]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].PriceDate.Before(recs[j].PriceDate) })
	}
	return book, nil
}

// valuationSeries values the portfolio at every timeline date. Lots are
// replayed from the full ledger at each date; closes advance along the
// price book so each symbol carries its latest close at or before the date.
func valuationSeries(trades []model.Trade, account string, timeline []time.Time, book priceBook) []model.AnalyticsPoint {
	cursor := make(map[string]int, len(book))
	current := make(map[string]model.PriceRecord, len(book))

	series := make([]model.AnalyticsPoint, 0, len(timeline))
	prevMarket := 0.0
	baseMarket := 0.0
	peak := 0.0

	for _, day := range timeline {
		for sym, recs := range book {
			i := cursor[sym]
			for ; i < len(recs) && !recs[i].PriceDate.After(day); i++ {
				current[sym] = recs[i]
			}
			cursor[sym] = i
		}

		lots := ledger.Replay(trades, day, account)
		m := pricing.Summarize(pricing.Valuate(lots, current))

		marketValue, _ := m.TotalMarketValue.Float64()
		totalPnL, _ := m.TotalUnrealizedPnL.Add(m.TotalRealizedPnL).Float64()

		point := model.AnalyticsPoint{
			Date:        model.AsDate(day),
			MarketValue: marketValue,
			TotalPnL:    totalPnL,
		}
		if prevMarket > 0 {
			point.DailyReturn = marketValue/prevMarket - 1
		}
		if baseMarket == 0 && marketValue > 0 {
			baseMarket = marketValue
		}
		if baseMarket > 0 {
			point.CumulativeReturn = marketValue/baseMarket - 1
		}
		peak = max(peak, marketValue)
		if peak > 0 {
			point.Drawdown = (marketValue - peak) / peak
		}

		series = append(series, point)
		prevMarket = marketValue
	}
	return series
}

// Concentration returns the position with the largest positive market value
// and its share of total positive market value, or nil and 0 when nothing
// is priced above zero. Ties keep the first position in report order.
func Concentration(positions []model.Position) (*string, float64) {
	total := decimal.Zero
	var top *model.Position
	for i := range positions {
		p := &positions[i]
		if !p.MarketValue.Valid || !p.MarketValue.Decimal.IsPositive() {
			continue
		}
		total = total.Add(p.MarketValue.Decimal)
		if top == nil || p.MarketValue.Decimal.GreaterThan(top.MarketValue.Decimal) {
			top = p
		}
	}
	if top == nil {
		return nil, 0
	}
	sym := top.Symbol
	weight, _ := top.MarketValue.Decimal.Div(total).Float64()
	return &sym, weight
}
