// Package ledger replays an append-only trade ledger into per-account,
// per-symbol lot state as of a snapshot date.
//
// Cost basis uses a single weighted-average cost per lot:
//   - BUY capitalizes fees into the average cost
//   - SELL realizes P&L on the matched quantity, net of fees
//   - a lot that returns to exactly zero resets its average cost
//
// Replay is a pure fold over the filtered trade list. Lots are rebuilt from
// the full history on every call and never cached between calls.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

type lotKey struct {
	account string
	symbol  string
}

// Filter returns the trades dated on or before snapshot, restricted to
// account when it is non-empty, in replay order: trade date ascending with
// insertion order (ID, then input position) as tie-break.
func Filter(trades []model.Trade, snapshot time.Time, account string) []model.Trade {
	out := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if t.TradeDate.After(snapshot) {
			continue
		}
		if account != "" && t.Account != account {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TradeDate.Equal(out[j].TradeDate) {
			return out[i].TradeDate.Before(out[j].TradeDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Replay folds the trades dated on or before snapshot into one Lot per
// (account, symbol) pair, sorted by account then symbol.
func Replay(trades []model.Trade, snapshot time.Time, account string) []model.Lot {
	ordered := Filter(trades, snapshot, account)

	lots := make(map[lotKey]*model.Lot)
	for _, t := range ordered {
		k := lotKey{account: t.Account, symbol: t.Symbol}
		lot, ok := lots[k]
		if !ok {
			lot = &model.Lot{
				Account:     t.Account,
				Symbol:      t.Symbol,
				Quantity:    decimal.Zero,
				AvgCost:     decimal.Zero,
				RealizedPnL: decimal.Zero,
				Currency:    t.Currency,
			}
			lots[k] = lot
		}
		Apply(lot, t)
	}

	out := make([]model.Lot, 0, len(lots))
	for _, lot := range lots {
		out = append(out, *lot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Apply folds a single trade into lot.
//
// A SELL larger than the held quantity is accepted: quantity goes negative
// and only the matched portion earns realized P&L. This is not a short-sale
// model.
func Apply(lot *model.Lot, t model.Trade) {
	switch t.Side {
	case model.SideBuy:
		total := lot.AvgCost.Mul(lot.Quantity).
			Add(t.Price.Mul(t.Quantity)).
			Add(t.Fees)
		qty := lot.Quantity.Add(t.Quantity)
		if qty.IsPositive() {
			lot.AvgCost = total.Div(qty)
		} else {
			lot.AvgCost = decimal.Zero
		}
		lot.Quantity = qty

	case model.SideSell:
		matched := decimal.Min(lot.Quantity, t.Quantity)
		proceeds := t.Price.Mul(matched).Sub(t.Fees)
		lot.RealizedPnL = lot.RealizedPnL.Add(proceeds.Sub(lot.AvgCost.Mul(matched)))
		lot.Quantity = lot.Quantity.Sub(t.Quantity)
		if lot.Quantity.IsZero() {
			lot.AvgCost = decimal.Zero
		}
	}
}

// Symbols returns the sorted distinct symbols traded in trades.
func Symbols(trades []model.Trade) []string {
	seen := make(map[string]struct{}, len(trades))
	out := make([]string, 0)
	for _, t := range trades {
		if _, ok := seen[t.Symbol]; ok {
			continue
		}
		seen[t.Symbol] = struct{}{}
		out = append(out, t.Symbol)
	}
	sort.Strings(out)
	return out
}

// EarliestDate returns the earliest trade date, or false when trades is empty.
func EarliestDate(trades []model.Trade) (time.Time, bool) {
	if len(trades) == 0 {
		return time.Time{}, false
	}
	earliest := trades[0].TradeDate
	for _, t := range trades[1:] {
		if t.TradeDate.Before(earliest) {
			earliest = t.TradeDate
		}
	}
	return earliest, true
}
