package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
	"golang.org/x/time/rate"

	"github.com/atmx/portfolio-engine/internal/model"
)

// eodLookback is how far before the as-of date FetchEOD searches for a close.
const eodLookback = 15 * 24 * time.Hour

var errNoBars = errors.New("no bars in window")

// YFinanceProvider reads daily closes from Yahoo Finance.
type YFinanceProvider struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewYFinance returns a Yahoo Finance provider throttled to rps requests per
// second. A non-positive rps falls back to 2.
func NewYFinance(rps float64) *YFinanceProvider {
	if rps <= 0 {
		rps = 2
	}
	return &YFinanceProvider{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		now:     time.Now,
	}
}

func (*YFinanceProvider) Name() string { return YFinance }

// FetchEOD returns the last close at or before asOf, stamped with asOf.
func (y *YFinanceProvider) FetchEOD(ctx context.Context, symbols []string, asOf time.Time) ([]model.PricePoint, []string) {
	asOf = model.Day(asOf)
	var points []model.PricePoint
	var failed []string
	for _, raw := range symbols {
		sym := normalizeSymbol(raw)
		if sym == "" {
			continue
		}
		bars, err := y.history(ctx, sym, asOf.Add(-eodLookback), asOf)
		if err != nil {
			slog.Warn("yfinance eod fetch failed", "symbol", sym, "error", err)
			failed = append(failed, sym)
			continue
		}
		last := bars[len(bars)-1]
		points = append(points, model.PricePoint{
			Symbol:     sym,
			PriceDate:  asOf,
			ClosePrice: decimal.NewFromFloat(last.Close),
			Currency:   "USD",
		})
	}
	return points, failed
}

// FetchHistory returns every daily close in [start, end].
func (y *YFinanceProvider) FetchHistory(ctx context.Context, symbols []string, start, end time.Time) ([]model.PricePoint, []string) {
	start, end = model.Day(start), model.Day(end)
	var points []model.PricePoint
	var failed []string
	for _, raw := range symbols {
		sym := normalizeSymbol(raw)
		if sym == "" {
			continue
		}
		bars, err := y.history(ctx, sym, start, end)
		if err != nil {
			slog.Warn("yfinance history fetch failed", "symbol", sym, "error", err)
			failed = append(failed, sym)
			continue
		}
		for _, bar := range bars {
			points = append(points, model.PricePoint{
				Symbol:     sym,
				PriceDate:  model.Day(bar.Date),
				ClosePrice: decimal.NewFromFloat(bar.Close),
				Currency:   "USD",
			})
		}
	}
	return points, failed
}

// history fetches daily bars covering start and keeps those dated in
// [start, end] with a positive close.
func (y *YFinanceProvider) history(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, errSymbol(YFinance, symbol, err)
	}

	t, err := ticker.New(symbol)
	if err != nil {
		return nil, errSymbol(YFinance, symbol, fmt.Errorf("create ticker: %w", err))
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     periodFor(y.now(), start),
		Interval:   "1d",
		AutoAdjust: false,
	})
	if err != nil {
		return nil, errSymbol(YFinance, symbol, fmt.Errorf("history: %w", err))
	}

	kept := bars[:0]
	for _, bar := range bars {
		day := model.Day(bar.Date)
		if day.Before(start) || day.After(end) || bar.Close <= 0 {
			continue
		}
		kept = append(kept, bar)
	}
	if len(kept) == 0 {
		return nil, errSymbol(YFinance, symbol, errNoBars)
	}
	return kept, nil
}

// periodFor picks the shortest Yahoo period that reaches back to start.
func periodFor(now, start time.Time) string {
	days := model.DaysBetween(start, now)
	switch {
	case days <= 5:
		return "5d"
	case days <= 28:
		return "1mo"
	case days <= 88:
		return "3mo"
	case days <= 180:
		return "6mo"
	case days <= 364:
		return "1y"
	case days <= 729:
		return "2y"
	case days <= 1825:
		return "5y"
	case days <= 3650:
		return "10y"
	default:
		return "max"
	}
}
