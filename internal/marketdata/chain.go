package marketdata

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
)

// Fetch kinds, used as a metrics label.
const (
	KindEOD     = "eod"
	KindHistory = "history"
)

// SourcedPoint is a fetched close attributed to the provider that returned it.
type SourcedPoint struct {
	model.PricePoint
	Source string
}

// ChainResult is the merged outcome of walking a provider chain.
type ChainResult struct {
	Points     []SourcedPoint // unique per (symbol, date), first-seen order
	Resolved   []string       // symbols served by some provider, in request order
	Unresolved []string       // symbols no provider served, in request order
}

type fetchFunc func(ctx context.Context, p Provider, symbols []string) ([]model.PricePoint, []string)

// RunEOD walks chain for end-of-day closes on asOf.
func RunEOD(ctx context.Context, chain []Provider, symbols []string, asOf time.Time) ChainResult {
	return run(ctx, KindEOD, chain, symbols, func(ctx context.Context, p Provider, pending []string) ([]model.PricePoint, []string) {
		return p.FetchEOD(ctx, pending, asOf)
	})
}

// RunHistory walks chain for daily closes in [start, end].
func RunHistory(ctx context.Context, chain []Provider, symbols []string, start, end time.Time) ChainResult {
	return run(ctx, KindHistory, chain, symbols, func(ctx context.Context, p Provider, pending []string) ([]model.PricePoint, []string) {
		return p.FetchHistory(ctx, pending, start, end)
	})
}

// run asks each provider in turn for the symbols still pending.
//
// A symbol moves on to the next provider only when the current one listed it
// as failed and returned no point for it. A symbol a provider neither served
// nor reported as failed drops out of the chain.
func run(ctx context.Context, kind string, chain []Provider, symbols []string, fetch fetchFunc) ChainResult {
	type key struct {
		symbol string
		date   time.Time
	}

	var res ChainResult
	index := make(map[key]int)
	served := make(map[string]struct{})
	pending := append([]string(nil), symbols...)

	for _, p := range chain {
		if len(pending) == 0 || ctx.Err() != nil {
			break
		}

		start := time.Now()
		points, failed := fetch(ctx, p, pending)
		metrics.ProviderFetchLatency.WithLabelValues(p.Name(), kind).Observe(time.Since(start).Seconds())

		succeeded := make(map[string]struct{}, len(points))
		for _, pt := range points {
			pt.Symbol = normalizeSymbol(pt.Symbol)
			pt.PriceDate = model.Day(pt.PriceDate)
			succeeded[pt.Symbol] = struct{}{}
			served[pt.Symbol] = struct{}{}

			k := key{symbol: pt.Symbol, date: pt.PriceDate}
			sp := SourcedPoint{PricePoint: pt, Source: p.Name()}
			if i, ok := index[k]; ok {
				res.Points[i] = sp
				continue
			}
			index[k] = len(res.Points)
			res.Points = append(res.Points, sp)
		}

		failedSet := make(map[string]struct{}, len(failed))
		for _, s := range failed {
			failedSet[normalizeSymbol(s)] = struct{}{}
		}
		if len(failed) > 0 {
			metrics.ProviderFailedSymbols.WithLabelValues(p.Name(), kind).Add(float64(len(failed)))
		}

		next := pending[:0:0]
		for _, s := range pending {
			if _, ok := succeeded[s]; ok {
				continue
			}
			if _, ok := failedSet[s]; ok {
				next = append(next, s)
			}
		}

		slog.Debug("provider fetch",
			"provider", p.Name(),
			"kind", kind,
			"requested", len(pending),
			"points", len(points),
			"failed", len(failed),
		)
		pending = next
	}

	for _, s := range symbols {
		if _, ok := served[s]; ok {
			res.Resolved = append(res.Resolved, s)
		} else {
			res.Unresolved = append(res.Unresolved, s)
		}
	}
	return res
}
