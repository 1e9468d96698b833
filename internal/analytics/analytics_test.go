package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/store"
)

const eps = 1e-9

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func trade(account, symbol string, date time.Time, side model.Side, qty, price float64) model.Trade {
	return model.Trade{
		Account:   account,
		Symbol:    symbol,
		TradeDate: date,
		Side:      side,
		Quantity:  d(qty),
		Price:     d(price),
		Fees:      decimal.Zero,
		Currency:  "USD",
	}
}

func closeAt(symbol string, date time.Time, px float64) model.PriceRecord {
	return model.PriceRecord{Symbol: symbol, PriceDate: date, ClosePrice: d(px), Currency: "USD", Source: "demo"}
}

// seedScenario: BUY 10 AAPL @100, then SELL 4 @120 two days later, with
// closes 100, 110, 99.
func seedScenario(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()

	_, _, err := s.InsertTrades(ctx, []model.Trade{
		trade("ACC1", "AAPL", model.Date(2026, 2, 9), model.SideBuy, 10, 100),
		trade("ACC1", "AAPL", model.Date(2026, 2, 11), model.SideSell, 4, 120),
	})
	require.NoError(t, err)
	require.NoError(t, s.UpsertPrices(ctx, []model.PriceRecord{
		closeAt("AAPL", model.Date(2026, 2, 9), 100),
		closeAt("AAPL", model.Date(2026, 2, 10), 110),
		closeAt("AAPL", model.Date(2026, 2, 11), 99),
	}))
	return s
}

func TestReport_Series(t *testing.T) {
	e := NewEngine(seedScenario(t))

	r, err := e.Report(context.Background(), model.Date(2026, 2, 11), time.Time{}, "")
	require.NoError(t, err)

	assert.True(t, r.StartDate.Equal(model.Date(2026, 2, 9)), "defaults to earliest trade")
	require.Len(t, r.Series, 3)

	first, second, third := r.Series[0], r.Series[1], r.Series[2]
	assert.InDelta(t, 1000, first.MarketValue, eps)
	assert.InDelta(t, 0, first.DailyReturn, eps)
	assert.InDelta(t, 0, first.CumulativeReturn, eps)

	assert.InDelta(t, 1100, second.MarketValue, eps)
	assert.InDelta(t, 100, second.TotalPnL, eps)
	assert.InDelta(t, 0.1, second.DailyReturn, eps)
	assert.InDelta(t, 0.1, second.CumulativeReturn, eps)
	assert.InDelta(t, 0, second.Drawdown, eps)

	// 6 left at avg 100, realized 80, marked at 99.
	assert.InDelta(t, 594, third.MarketValue, eps)
	assert.InDelta(t, 74, third.TotalPnL, eps)
	assert.InDelta(t, -0.46, third.DailyReturn, eps)
	assert.InDelta(t, -0.406, third.CumulativeReturn, eps)
	assert.InDelta(t, -0.46, third.Drawdown, eps)

	sd := math.Sqrt(2 * 0.28 * 0.28)
	assert.InDelta(t, sd*math.Sqrt(252), r.AnnualizedVolatility, 1e-9)
	assert.InDelta(t, -0.18/sd*math.Sqrt(252), r.SharpeRatio, 1e-9)
	assert.InDelta(t, -0.46, r.MaxDrawdown, eps)
	assert.InDelta(t, -0.46, r.VaR95, eps)
	assert.InDelta(t, -0.46, r.CVaR95, eps)

	require.NotNil(t, r.ConcentrationTopSymbol)
	assert.Equal(t, "AAPL", *r.ConcentrationTopSymbol)
	assert.InDelta(t, 1, r.ConcentrationTopWeight, eps)
}

func TestReport_EmptyLedger(t *testing.T) {
	e := NewEngine(store.NewMemoryStore())
	snapshot := model.Date(2026, 2, 11)

	r, err := e.Report(context.Background(), snapshot, time.Time{}, "")
	require.NoError(t, err)
	assert.True(t, r.StartDate.Equal(snapshot))
	assert.Empty(t, r.Series)
	assert.Nil(t, r.ConcentrationTopSymbol)
	assert.Zero(t, r.AnnualizedVolatility)

	start := model.Date(2026, 1, 1)
	r, err = e.Report(context.Background(), snapshot, start, "")
	require.NoError(t, err)
	assert.True(t, r.StartDate.Equal(start))
}

func TestReport_AccountFilterWithNoTrades(t *testing.T) {
	e := NewEngine(seedScenario(t))

	r, err := e.Report(context.Background(), model.Date(2026, 2, 11), time.Time{}, "OTHER")
	require.NoError(t, err)
	assert.Equal(t, "OTHER", r.AccountFilter)
	assert.Empty(t, r.Series)
}

func TestReport_StartAfterSnapshotIsClamped(t *testing.T) {
	e := NewEngine(seedScenario(t))
	snapshot := model.Date(2026, 2, 11)

	r, err := e.Report(context.Background(), snapshot, model.Date(2026, 3, 1), "")
	require.NoError(t, err)
	assert.True(t, r.StartDate.Equal(snapshot))
	require.Len(t, r.Series, 1)
	assert.InDelta(t, 594, r.Series[0].MarketValue, eps)

	// A single point has no return observations.
	assert.Zero(t, r.AnnualizedVolatility)
	assert.Zero(t, r.SharpeRatio)
	assert.Zero(t, r.VaR95)
	assert.Zero(t, r.CVaR95)
}

func TestReport_NoPricesUsesSnapshotPoint(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_, _, err := s.InsertTrades(ctx, []model.Trade{
		trade("ACC1", "NOPX", model.Date(2026, 2, 9), model.SideBuy, 5, 20),
	})
	require.NoError(t, err)

	snapshot := model.Date(2026, 2, 11)
	r, err := NewEngine(s).Report(ctx, snapshot, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, r.Series, 1)
	assert.True(t, r.Series[0].Date.Equal(snapshot))
	assert.Zero(t, r.Series[0].MarketValue)
	assert.Nil(t, r.ConcentrationTopSymbol)
}

func TestReport_CarriesLastCloseAcrossGaps(t *testing.T) {
	ctx := context.Background()
	s := seedScenario(t)
	_, _, err := s.InsertTrades(ctx, []model.Trade{
		trade("ACC2", "MSFT", model.Date(2026, 2, 9), model.SideBuy, 2, 50),
	})
	require.NoError(t, err)
	require.NoError(t, s.UpsertPrices(ctx, []model.PriceRecord{closeAt("MSFT", model.Date(2026, 2, 9), 50)}))

	r, err := NewEngine(s).Report(ctx, model.Date(2026, 2, 11), time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, r.Series, 3)
	assert.InDelta(t, 1100, r.Series[0].MarketValue, eps)
	assert.InDelta(t, 1200, r.Series[1].MarketValue, eps)
	assert.InDelta(t, 694, r.Series[2].MarketValue, eps)

	require.NotNil(t, r.ConcentrationTopSymbol)
	assert.Equal(t, "AAPL", *r.ConcentrationTopSymbol)
	assert.InDelta(t, 594.0/694.0, r.ConcentrationTopWeight, eps)
}

func TestStats(t *testing.T) {
	assert.Zero(t, SampleStdDev(nil))
	assert.Zero(t, SampleStdDev([]float64{0.3}))
	assert.Zero(t, Sharpe([]float64{0.5, 0.5, 0.5}))
	assert.InDelta(t, 1, SampleStdDev([]float64{1, 2, 3}), eps)

	returns := []float64{0.02, -0.05, 0.01, -0.01, 0.03, -0.02, 0.04, 0.00, -0.03, 0.01, 0.02}
	// n=11, index round(0.5) = 0 (halves to even).
	assert.InDelta(t, -0.05, VaR95(returns), eps)
	assert.InDelta(t, -0.05, CVaR95(returns, -0.05), eps)
	assert.InDelta(t, -0.04, CVaR95(returns, -0.03), eps)
	assert.InDelta(t, -0.1, CVaR95(nil, -0.1), eps)

	assert.Zero(t, MaxDrawdown(nil))
	assert.InDelta(t, -0.5, MaxDrawdown([]float64{10, 20, 10, 15, 25}), eps)
	assert.Zero(t, MaxDrawdown([]float64{1, 2, 3}))
}

func TestPercentile_RoundsHalfToEven(t *testing.T) {
	values := make([]float64, 51)
	for i := range values {
		values[i] = float64(50 - i)
	}
	// n=51: 0.05*50 = 2.5 rounds to 2.
	assert.Equal(t, 2.0, Percentile(values, 0.05))
	assert.Zero(t, Percentile(nil, 0.05))
}

func TestConcentration(t *testing.T) {
	priced := func(sym string, mv float64) model.Position {
		return model.Position{Symbol: sym, MarketValue: decimal.NewNullDecimal(d(mv))}
	}

	sym, w := Concentration([]model.Position{
		priced("AAA", 300),
		priced("BBB", 300),
		priced("CCC", 400),
		priced("SHORT", -500),
		{Symbol: "NOPX"},
	})
	require.NotNil(t, sym)
	assert.Equal(t, "CCC", *sym)
	assert.InDelta(t, 0.4, w, eps)

	sym, _ = Concentration([]model.Position{priced("AAA", 300), priced("BBB", 300)})
	assert.Equal(t, "AAA", *sym, "ties keep the first")

	sym, w = Concentration([]model.Position{priced("SHORT", -10), {Symbol: "NOPX"}})
	assert.Nil(t, sym)
	assert.Zero(t, w)
}
