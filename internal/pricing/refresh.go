package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/portfolio-engine/internal/marketdata"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/symbol"
)

// JobName identifies price refresh runs in the job log.
const JobName = "price_refresh"

// RefreshStore is the persistence a Refresher needs.
type RefreshStore interface {
	TradedSymbols(ctx context.Context) ([]string, error)
	UpsertPrices(ctx context.Context, records []model.PriceRecord) error
	CreateJobRun(ctx context.Context, run *model.JobRun) error
	FinishJobRun(ctx context.Context, run *model.JobRun) error
}

// Refresher pulls end-of-day closes through a provider chain into the store.
type Refresher struct {
	store    RefreshStore
	registry *marketdata.Registry
	now      func() time.Time
}

// NewRefresher creates a Refresher.
func NewRefresher(store RefreshStore, registry *marketdata.Registry) *Refresher {
	return &Refresher{store: store, registry: registry, now: time.Now}
}

type refreshDetails struct {
	Providers        []string `json:"providers"`
	PriceDate        string   `json:"price_date"`
	RequestedSymbols []string `json:"requested_symbols"`
	FailedSymbols    []string `json:"failed_symbols,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Refresh fetches closes for priceDate and upserts them. When symbols is
// empty every traded symbol is refreshed. Repeating a refresh overwrites the
// same rows.
func (r *Refresher) Refresh(ctx context.Context, priceDate time.Time, symbols, providers []string) (*model.RefreshResult, error) {
	priceDate = model.Day(priceDate)

	chain, names, err := r.registry.Chain(providers)
	if err != nil {
		return nil, err
	}

	requested := symbol.NormalizeSorted(symbols)
	if len(requested) == 0 {
		if requested, err = r.store.TradedSymbols(ctx); err != nil {
			return nil, fmt.Errorf("list traded symbols: %w", err)
		}
	}

	details := refreshDetails{
		Providers:        names,
		PriceDate:        model.FormatDate(priceDate),
		RequestedSymbols: requested,
	}
	run := &model.JobRun{
		ID:        uuid.New().String(),
		JobName:   JobName,
		Status:    model.JobRunning,
		StartedAt: r.now().UTC(),
		Details:   encodeDetails(details),
	}
	if err := r.store.CreateJobRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create job run: %w", err)
	}

	result := &model.RefreshResult{
		ProvidersUsed:  names,
		PriceDate:      model.AsDate(priceDate),
		RequestedCount: len(requested),
		FailedSymbols:  []string{},
		JobRunID:       run.ID,
	}
	if len(requested) == 0 {
		r.finish(ctx, run, model.JobSuccess, 0, details)
		return result, nil
	}

	res := marketdata.RunEOD(ctx, chain, requested, priceDate)

	ingested := r.now().UTC()
	records := make([]model.PriceRecord, 0, len(res.Points))
	for _, pt := range res.Points {
		records = append(records, model.PriceRecord{
			Symbol:     pt.Symbol,
			PriceDate:  pt.PriceDate,
			ClosePrice: pt.ClosePrice,
			Currency:   pt.Currency,
			Source:     pt.Source,
			IngestedAt: ingested,
		})
	}
	if err := r.store.UpsertPrices(ctx, records); err != nil {
		details.Error = err.Error()
		r.finish(ctx, run, model.JobFailed, 0, details)
		return nil, fmt.Errorf("upsert prices: %w", err)
	}
	for _, rec := range records {
		metrics.PricesUpserted.WithLabelValues(rec.Source).Inc()
	}

	result.ProcessedCount = len(records)
	if len(res.Unresolved) > 0 {
		result.FailedSymbols = res.Unresolved
	}
	details.FailedSymbols = res.Unresolved

	status := model.JobSuccess
	switch {
	case len(res.Resolved) == 0:
		status = model.JobFailed
	case len(res.Unresolved) > 0:
		status = model.JobPartialFailed
	}
	r.finish(ctx, run, status, len(records), details)

	slog.Info("prices refreshed",
		"providers", strings.Join(names, ","),
		"price_date", details.PriceDate,
		"requested", len(requested),
		"processed", len(records),
		"failed", len(res.Unresolved),
		"job_run_id", run.ID,
	)
	return result, nil
}

// finish closes the job run. A failure to record the outcome is logged and
// does not fail the refresh.
func (r *Refresher) finish(ctx context.Context, run *model.JobRun, status string, rows int, details refreshDetails) {
	finished := r.now().UTC()
	run.Status = status
	run.RowsProcessed = rows
	run.FinishedAt = &finished
	run.Details = encodeDetails(details)
	metrics.PriceRefreshRuns.WithLabelValues(status).Inc()

	if err := r.store.FinishJobRun(ctx, run); err != nil {
		slog.Error("failed to finish job run", "job_run_id", run.ID, "error", err)
	}
}

func encodeDetails(d refreshDetails) string {
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}
