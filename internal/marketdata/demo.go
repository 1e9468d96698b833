package marketdata

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
)

// failPrefix marks symbols the demo provider always rejects.
const failPrefix = "XFAIL"

// DemoProvider produces deterministic synthetic closes with no network access.
// The same symbol and date always yield the same close.
type DemoProvider struct{}

// NewDemo returns the synthetic provider.
func NewDemo() *DemoProvider { return &DemoProvider{} }

func (*DemoProvider) Name() string { return Demo }

// FetchEOD returns the base close for every symbol, dated asOf.
func (*DemoProvider) FetchEOD(_ context.Context, symbols []string, asOf time.Time) ([]model.PricePoint, []string) {
	var points []model.PricePoint
	var failed []string
	for _, raw := range symbols {
		sym := normalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if strings.HasPrefix(sym, failPrefix) {
			failed = append(failed, sym)
			continue
		}
		points = append(points, model.PricePoint{
			Symbol:     sym,
			PriceDate:  model.Day(asOf),
			ClosePrice: demoBase(sym),
			Currency:   "USD",
		})
	}
	return points, failed
}

// FetchHistory returns one close per weekday in [start, end]. The close
// oscillates around the base close so returns are non-trivial.
func (*DemoProvider) FetchHistory(_ context.Context, symbols []string, start, end time.Time) ([]model.PricePoint, []string) {
	var points []model.PricePoint
	var failed []string
	start, end = model.Day(start), model.Day(end)
	for _, raw := range symbols {
		sym := normalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if strings.HasPrefix(sym, failPrefix) {
			failed = append(failed, sym)
			continue
		}
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			points = append(points, model.PricePoint{
				Symbol:     sym,
				PriceDate:  day,
				ClosePrice: demoClose(sym, day),
				Currency:   "USD",
			})
		}
	}
	return points, failed
}

func demoSeed(sym string) int {
	seed := 0
	for _, r := range sym {
		seed += int(r)
	}
	return seed
}

// demoBase is seed%200 + 20.25.
func demoBase(sym string) decimal.Decimal {
	return decimal.NewFromInt(int64(demoSeed(sym)%200 + 20)).Add(decimal.RequireFromString("0.25"))
}

func demoClose(sym string, day time.Time) decimal.Decimal {
	seed := demoSeed(sym)
	n := float64(day.Unix() / 86400)
	wave := 0.04*math.Sin(n*0.35+float64(seed)) + 0.015*math.Cos(n*0.11+float64(seed%7))
	base, _ := demoBase(sym).Float64()
	return decimal.NewFromFloat(base * (1 + wave)).Round(2)
}
