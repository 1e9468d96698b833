// Package pricing joins replayed lots with stored end-of-day closes and
// keeps the price store current from market data providers.
package pricing

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/ledger"
	"github.com/atmx/portfolio-engine/internal/model"
)

// PriceSource resolves the latest stored close per symbol at or before a date.
type PriceSource interface {
	LatestPricesAsOf(ctx context.Context, symbols []string, asOf time.Time) (map[string]model.PriceRecord, error)
}

// AsOf selects, for each requested symbol, the row with the greatest price
// date not after asOf. Symbols with no such row are absent from the result.
func AsOf(rows []model.PriceRecord, symbols []string, asOf time.Time) map[string]model.PriceRecord {
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}

	out := make(map[string]model.PriceRecord, len(symbols))
	for _, row := range rows {
		if _, ok := wanted[row.Symbol]; !ok || row.PriceDate.After(asOf) {
			continue
		}
		if cur, ok := out[row.Symbol]; ok && !row.PriceDate.After(cur.PriceDate) {
			continue
		}
		out[row.Symbol] = row
	}
	return out
}

// Valuate turns lots into positions using prices. A lot whose symbol has no
// price keeps null market fields.
func Valuate(lots []model.Lot, prices map[string]model.PriceRecord) []model.Position {
	out := make([]model.Position, 0, len(lots))
	for _, lot := range lots {
		pos := model.Position{
			Account:     lot.Account,
			Symbol:      lot.Symbol,
			Quantity:    lot.Quantity,
			AvgCost:     lot.AvgCost,
			CostBasis:   lot.Quantity.Mul(lot.AvgCost),
			RealizedPnL: lot.RealizedPnL,
			Currency:    lot.Currency,
		}
		if px, ok := prices[lot.Symbol]; ok {
			value := lot.Quantity.Mul(px.ClosePrice)
			pos.MarketPrice = decimal.NewNullDecimal(px.ClosePrice)
			pos.MarketValue = decimal.NewNullDecimal(value)
			pos.UnrealizedPnL = decimal.NewNullDecimal(value.Sub(pos.CostBasis))
		}
		out = append(out, pos)
	}
	return out
}

// PositionsAsOf replays trades up to snapshot and prices the resulting lots
// from src.
func PositionsAsOf(ctx context.Context, src PriceSource, trades []model.Trade, snapshot time.Time, account string) ([]model.Position, error) {
	lots := ledger.Replay(trades, snapshot, account)
	if len(lots) == 0 {
		return []model.Position{}, nil
	}

	prices, err := src.LatestPricesAsOf(ctx, lotSymbols(lots), snapshot)
	if err != nil {
		return nil, err
	}
	return Valuate(lots, prices), nil
}

// Summarize aggregates a position list. Unpriced positions contribute to cost
// basis and realized P&L only.
func Summarize(positions []model.Position) model.Metrics {
	m := model.Metrics{
		TotalPositions:     len(positions),
		TotalMarketValue:   decimal.Zero,
		TotalCostBasis:     decimal.Zero,
		TotalUnrealizedPnL: decimal.Zero,
		TotalRealizedPnL:   decimal.Zero,
		GrossExposure:      decimal.Zero,
		NetExposure:        decimal.Zero,
	}
	for _, p := range positions {
		m.TotalCostBasis = m.TotalCostBasis.Add(p.CostBasis)
		m.TotalRealizedPnL = m.TotalRealizedPnL.Add(p.RealizedPnL)
		if !p.MarketValue.Valid {
			m.SymbolsUnpriced++
			continue
		}
		m.SymbolsPriced++
		m.TotalMarketValue = m.TotalMarketValue.Add(p.MarketValue.Decimal)
		m.TotalUnrealizedPnL = m.TotalUnrealizedPnL.Add(p.UnrealizedPnL.Decimal)
		m.GrossExposure = m.GrossExposure.Add(p.MarketValue.Decimal.Abs())
	}
	m.NetExposure = m.TotalMarketValue
	return m
}

// lotSymbols returns the sorted distinct symbols held across lots.
func lotSymbols(lots []model.Lot) []string {
	seen := make(map[string]struct{}, len(lots))
	out := make([]string, 0, len(lots))
	for _, l := range lots {
		if _, ok := seen[l.Symbol]; ok {
			continue
		}
		seen[l.Symbol] = struct{}{}
		out = append(out, l.Symbol)
	}
	sort.Strings(out)
	return out
}
