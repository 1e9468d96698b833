package compare

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/portfolio-engine/internal/marketdata"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/store"
)

const eps = 1e-9

var (
	day1 = model.Date(2026, 2, 9)
	day2 = model.Date(2026, 2, 10)
	day3 = model.Date(2026, 2, 11)
	day4 = model.Date(2026, 2, 12)
)

// historyStub serves fixed closes per symbol and fails the listed symbols.
type historyStub struct {
	name  string
	paths map[string]map[time.Time]float64
	fail  map[string]bool
	calls [][]string
}

func (h *historyStub) Name() string { return h.name }

func (h *historyStub) FetchEOD(ctx context.Context, symbols []string, asOf time.Time) ([]model.PricePoint, []string) {
	return h.FetchHistory(ctx, symbols, asOf, asOf)
}

func (h *historyStub) FetchHistory(_ context.Context, symbols []string, start, end time.Time) ([]model.PricePoint, []string) {
	h.calls = append(h.calls, append([]string(nil), symbols...))
	var points []model.PricePoint
	var failed []string
	for _, sym := range symbols {
		path, ok := h.paths[sym]
		if !ok {
			if h.fail[sym] {
				failed = append(failed, sym)
			}
			continue
		}
		for day, px := range path {
			if day.Before(start) || day.After(end) {
				continue
			}
			points = append(points, model.PricePoint{Symbol: sym, PriceDate: day, ClosePrice: decimal.NewFromFloat(px), Currency: "USD"})
		}
	}
	return points, failed
}

func newComparer(t *testing.T, defaults []string, providers ...marketdata.Provider) (*Comparer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, marketdata.NewRegistryWith(defaults, providers...)), st
}

func TestCompare_Validation(t *testing.T) {
	c, _ := newComparer(t, []string{"a"}, &historyStub{name: "a"})
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		msg  string
	}{
		{"no symbols", Request{Symbols: []string{" ", ""}, Start: day1, End: day2}, "At least one symbol is required"},
		{"reversed", Request{Symbols: []string{"AAPL"}, Start: day2, End: day1}, "start_date must be on or before end_date"},
		{"too wide", Request{Symbols: []string{"AAPL"}, Start: model.Date(2024, 1, 1), End: model.Date(2026, 1, 2)}, "Date range too wide; use 730 days or fewer"},
		{"unknown provider", Request{Symbols: []string{"AAPL"}, Start: day1, End: day2, Providers: []string{"bloomberg"}}, "Unsupported market data provider: bloomberg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compare(ctx, tc.req)
			var verr *model.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.msg, verr.Msg)
		})
	}
}

func TestCompare_AcceptsExactlyMaxRange(t *testing.T) {
	c, _ := newComparer(t, []string{"a"}, &historyStub{name: "a"})
	start := model.Date(2024, 1, 1)

	_, err := c.Compare(context.Background(), Request{Symbols: []string{"AAPL"}, Start: start, End: start.AddDate(0, 0, MaxRangeDays)})
	require.NoError(t, err)
}

func TestCompare_FallbackAndSeries(t *testing.T) {
	a := &historyStub{
		name: "a",
		paths: map[string]map[time.Time]float64{
			"AAPL": {day1: 100, day2: 110, day3: 99, day4: 108.9},
		},
		fail: map[string]bool{"MSFT": true, "NOPE": true},
	}
	b := &historyStub{
		name: "b",
		paths: map[string]map[time.Time]float64{
			"MSFT": {day2: 200, day3: 220, day4: 198},
		},
		fail: map[string]bool{"NOPE": true},
	}
	c, st := newComparer(t, []string{"a", "b"}, a, b)

	r, err := c.Compare(context.Background(), Request{
		Symbols: []string{"aapl", "MSFT", " AAPL", "nope"},
		Start:   day1,
		End:     day4,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT", "NOPE"}, r.Symbols)
	assert.Equal(t, []string{"a", "b"}, r.ProvidersUsed)
	assert.Equal(t, []string{"NOPE"}, r.FailedSymbols)
	assert.Equal(t, [][]string{{"AAPL", "MSFT", "NOPE"}}, a.calls)
	assert.Equal(t, [][]string{{"MSFT", "NOPE"}}, b.calls, "only failed symbols move down the chain")

	require.Len(t, r.Series, 4)
	assert.Nil(t, r.Series[0].Prices["MSFT"])
	assert.Nil(t, r.Series[0].Normalized["MSFT"])
	assert.Nil(t, r.Series[0].Prices["NOPE"])
	assert.InDelta(t, 1.0, *r.Series[0].Normalized["AAPL"], eps)
	assert.InDelta(t, 1.1, *r.Series[1].Normalized["AAPL"], eps)
	assert.InDelta(t, 1.0, *r.Series[1].Normalized["MSFT"], eps)
	assert.InDelta(t, 1.1, *r.Series[2].Normalized["MSFT"], eps)

	require.Len(t, r.Summary, 3)
	aapl, msft, nope := r.Summary[0], r.Summary[1], r.Summary[2]
	assert.Equal(t, 4, aapl.Observations)
	assert.InDelta(t, 100, *aapl.StartPrice, eps)
	assert.InDelta(t, 108.9, *aapl.EndPrice, eps)
	assert.InDelta(t, 0.089, aapl.ReturnPct, eps)
	assert.InDelta(t, -0.1, aapl.MaxDrawdown, eps)
	assert.Greater(t, aapl.AnnualizedVolatility, 0.0)

	assert.Equal(t, 3, msft.Observations)
	assert.InDelta(t, -0.01, msft.ReturnPct, eps)

	assert.Zero(t, nope.Observations)
	assert.Nil(t, nope.StartPrice)
	assert.Zero(t, nope.ReturnPct)

	// AAPL returns on day3, day4 are -0.1, +0.1; MSFT's are +0.1, -0.1.
	assert.InDelta(t, -1.0, r.Correlation["AAPL"]["MSFT"], eps)
	assert.Equal(t, r.Correlation["AAPL"]["MSFT"], r.Correlation["MSFT"]["AAPL"])
	assert.Equal(t, 1.0, r.Correlation["NOPE"]["NOPE"])
	assert.Zero(t, r.Correlation["AAPL"]["NOPE"])

	stored, err := st.PricesInRange(context.Background(), []string{"MSFT"}, day1, day4)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "b", stored[0].Source)
}

func TestCompare_IsIdempotent(t *testing.T) {
	a := &historyStub{
		name:  "a",
		paths: map[string]map[time.Time]float64{"AAPL": {day1: 100, day2: 101}},
	}
	c, st := newComparer(t, []string{"a"}, a)
	req := Request{Symbols: []string{"AAPL"}, Start: day1, End: day2}

	first, err := c.Compare(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Compare(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Series, second.Series)
	assert.Equal(t, first.Summary, second.Summary)

	rows, err := st.PricesInRange(context.Background(), []string{"AAPL"}, day1, day2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCompare_UsesStoredPricesWhenProviderSilent(t *testing.T) {
	c, st := newComparer(t, []string{"a"}, &historyStub{name: "a"})
	ctx := context.Background()
	require.NoError(t, st.UpsertPrices(ctx, []model.PriceRecord{
		{Symbol: "IBM", PriceDate: day1, ClosePrice: decimal.NewFromInt(150), Currency: "USD", Source: "demo"},
	}))

	r, err := c.Compare(ctx, Request{Symbols: []string{"IBM"}, Start: day1, End: day2})
	require.NoError(t, err)
	assert.Empty(t, r.FailedSymbols)
	require.Len(t, r.Summary, 1)
	assert.Equal(t, 1, r.Summary[0].Observations)
	assert.Equal(t, *r.Summary[0].StartPrice, *r.Summary[0].EndPrice)
	assert.Zero(t, r.Summary[0].ReturnPct)
}

func TestCompare_DemoProvider(t *testing.T) {
	c, _ := newComparer(t, []string{marketdata.Demo}, marketdata.NewDemo())

	r, err := c.Compare(context.Background(), Request{
		Symbols: []string{"AAPL", "MSFT", "XFAIL1"},
		Start:   model.Date(2026, 2, 2),
		End:     model.Date(2026, 2, 13),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"XFAIL1"}, r.FailedSymbols)
	assert.Len(t, r.Series, 10)

	for _, left := range r.Symbols {
		for _, right := range r.Symbols {
			v := r.Correlation[left][right]
			assert.Equal(t, v, r.Correlation[right][left])
			assert.GreaterOrEqual(t, v, -1.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		assert.Equal(t, 1.0, r.Correlation[left][left])
	}
}
