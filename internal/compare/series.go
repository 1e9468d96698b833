package compare

import (
	"sort"
	"time"

	"github.com/atmx/portfolio-engine/internal/analytics"
	"github.com/atmx/portfolio-engine/internal/correlation"
	"github.com/atmx/portfolio-engine/internal/model"
)

type observation struct {
	date  time.Time
	price float64
}

// build turns stored closes into the aligned series, per-symbol summaries
// and the correlation matrix. symbols fixes the output order.
func build(symbols []string, rows []model.PriceRecord) *model.CompareReport {
	byDate := make(map[time.Time]map[string]float64)
	for _, r := range rows {
		day := model.Day(r.PriceDate)
		if byDate[day] == nil {
			byDate[day] = make(map[string]float64, len(symbols))
		}
		px, _ := r.ClosePrice.Float64()
		byDate[day][r.Symbol] = px
	}

	timeline := make([]time.Time, 0, len(byDate))
	for day := range byDate {
		timeline = append(timeline, day)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })

	paths := make(map[string][]observation, len(symbols))
	first := make(map[string]float64, len(symbols))
	series := make([]model.ComparePoint, 0, len(timeline))

	for _, day := range timeline {
		point := model.ComparePoint{
			Date:       model.AsDate(day),
			Prices:     make(map[string]*float64, len(symbols)),
			Normalized: make(map[string]*float64, len(symbols)),
		}
		for _, sym := range symbols {
			px, ok := byDate[day][sym]
			if !ok {
				point.Prices[sym] = nil
				point.Normalized[sym] = nil
				continue
			}
			paths[sym] = append(paths[sym], observation{date: day, price: px})
			if _, seen := first[sym]; !seen {
				first[sym] = px
			}
			point.Prices[sym] = ptr(px)
			if base := first[sym]; base > 0 {
				point.Normalized[sym] = ptr(px / base)
			} else {
				point.Normalized[sym] = nil
			}
		}
		series = append(series, point)
	}

	summary := make([]model.CompareSummary, 0, len(symbols))
	returns := make(map[string]correlation.Returns, len(symbols))
	failed := []string{}

	for _, sym := range symbols {
		s, r := summarize(sym, paths[sym])
		summary = append(summary, s)
		returns[sym] = r
		if s.Observations == 0 {
			failed = append(failed, sym)
		}
	}

	return &model.CompareReport{
		Symbols:       symbols,
		FailedSymbols: failed,
		Series:        series,
		Summary:       summary,
		Correlation:   correlation.Matrix(symbols, returns),
	}
}

// summarize describes one symbol's price path and returns its dated
// day-over-day returns. Returns after a non-positive close are skipped.
func summarize(sym string, path []observation) (model.CompareSummary, correlation.Returns) {
	s := model.CompareSummary{Symbol: sym, Observations: len(path)}
	returns := make(correlation.Returns, len(path))
	if len(path) == 0 {
		return s, returns
	}

	s.StartPrice = ptr(path[0].price)
	s.EndPrice = ptr(path[len(path)-1].price)
	if len(path) < 2 {
		return s, returns
	}

	if path[0].price > 0 {
		s.ReturnPct = path[len(path)-1].price/path[0].price - 1
	}

	daily := make([]float64, 0, len(path)-1)
	prices := make([]float64, 0, len(path))
	prices = append(prices, path[0].price)
	for i := 1; i < len(path); i++ {
		prices = append(prices, path[i].price)
		prev := path[i-1].price
		if prev <= 0 {
			continue
		}
		r := path[i].price/prev - 1
		daily = append(daily, r)
		returns[path[i].date] = r
	}

	s.AnnualizedVolatility = analytics.AnnualizedVolatility(daily)
	s.MaxDrawdown = analytics.MaxDrawdown(prices)
	return s, returns
}

func ptr(v float64) *float64 { return &v }
