// Package compare lines up daily closes for several symbols over a date
// range, summarizes each path and correlates their day-over-day returns.
//
// Missing history is fetched through a provider chain and written to the
// price store first; the series is then always built from what the store
// holds for the range, so repeated comparisons agree with each other and
// with portfolio valuation.
package compare

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/portfolio-engine/internal/marketdata"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/symbol"
)

// MaxRangeDays is the widest range a comparison accepts.
const MaxRangeDays = 730

// Store is the price persistence a Comparer needs.
type Store interface {
	UpsertPrices(ctx context.Context, records []model.PriceRecord) error
	PricesInRange(ctx context.Context, symbols []string, start, end time.Time) ([]model.PriceRecord, error)
}

// Request describes one comparison. Providers may be empty to use the
// configured default chain.
type Request struct {
	Symbols   []string
	Start     time.Time
	End       time.Time
	Providers []string
}

// Comparer runs comparisons.
type Comparer struct {
	store    Store
	registry *marketdata.Registry
	now      func() time.Time
}

// New creates a Comparer.
func New(store Store, registry *marketdata.Registry) *Comparer {
	return &Comparer{store: store, registry: registry, now: time.Now}
}

// Compare validates req, backfills history through the provider chain and
// builds the report.
func (c *Comparer) Compare(ctx context.Context, req Request) (*model.CompareReport, error) {
	symbols := symbol.Normalize(req.Symbols)
	if len(symbols) == 0 {
		return nil, model.Invalidf("At least one symbol is required")
	}
	start, end := model.Day(req.Start), model.Day(req.End)
	if start.After(end) {
		return nil, model.Invalidf("start_date must be on or before end_date")
	}
	if model.DaysBetween(start, end) > MaxRangeDays {
		return nil, model.Invalidf("Date range too wide; use %d days or fewer", MaxRangeDays)
	}

	chain, names, err := c.registry.Chain(req.Providers)
	if err != nil {
		return nil, err
	}

	defer metrics.ObserveSince("compare", time.Now())

	res := marketdata.RunHistory(ctx, chain, symbols, start, end)
	if len(res.Points) > 0 {
		if err := c.store.UpsertPrices(ctx, c.records(res.Points)); err != nil {
			return nil, fmt.Errorf("upsert prices: %w", err)
		}
		for _, pt := range res.Points {
			metrics.PricesUpserted.WithLabelValues(pt.Source).Inc()
		}
	}

	rows, err := c.store.PricesInRange(ctx, symbols, start, end)
	if err != nil {
		return nil, fmt.Errorf("prices in range: %w", err)
	}

	report := build(symbols, rows)
	report.StartDate = model.AsDate(start)
	report.EndDate = model.AsDate(end)
	report.ProvidersUsed = names

	slog.Debug("companies compared",
		"symbols", len(symbols),
		"providers", names,
		"fetched", len(res.Points),
		"failed", len(report.FailedSymbols),
	)
	return report, nil
}

func (c *Comparer) records(points []marketdata.SourcedPoint) []model.PriceRecord {
	ingested := c.now().UTC()
	out := make([]model.PriceRecord, 0, len(points))
	for _, pt := range points {
		out = append(out, model.PriceRecord{
			Symbol:     pt.Symbol,
			PriceDate:  pt.PriceDate,
			ClosePrice: pt.ClosePrice,
			Currency:   pt.Currency,
			Source:     pt.Source,
			IngestedAt: ingested,
		})
	}
	return out
}
