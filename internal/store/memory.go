package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/portfolio-engine/internal/ledger"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/pricing"
)

type priceKey struct {
	symbol string
	date   time.Time
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	trades []model.Trade
	uids   map[string]struct{}
	nextID int64
	prices map[priceKey]model.PriceRecord
	jobs   map[string]model.JobRun
	now    func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		uids:   make(map[string]struct{}),
		prices: make(map[priceKey]model.PriceRecord),
		jobs:   make(map[string]model.JobRun),
		now:    time.Now,
	}
}

// --- Trade ledger ---

func (s *MemoryStore) InsertTrades(_ context.Context, trades []model.Trade) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, duplicates := 0, 0
	for _, t := range trades {
		if t.UID == "" {
			t.UID = ledger.TradeUID(t)
		}
		if _, ok := s.uids[t.UID]; ok {
			duplicates++
			continue
		}
		s.nextID++
		t.ID = s.nextID
		t.TradeDate = model.Day(t.TradeDate)
		t.ImportedAt = s.now().UTC()
		s.uids[t.UID] = struct{}{}
		s.trades = append(s.trades, t)
		inserted++
	}
	return inserted, duplicates, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, f TradeFilter) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		if f.Account != "" && t.Account != f.Account {
			continue
		}
		if !f.Through.IsZero() && t.TradeDate.After(f.Through) {
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
	return out, nil
}

func (s *MemoryStore) TradedSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ledger.Symbols(s.trades), nil
}

// --- End-of-day prices ---

func (s *MemoryStore) UpsertPrices(_ context.Context, records []model.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		r.PriceDate = model.Day(r.PriceDate)
		if r.IngestedAt.IsZero() {
			r.IngestedAt = s.now().UTC()
		}
		s.prices[priceKey{symbol: r.Symbol, date: r.PriceDate}] = r
	}
	return nil
}

func (s *MemoryStore) LatestPricesAsOf(_ context.Context, symbols []string, asOf time.Time) (map[string]model.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.PriceRecord, 0, len(s.prices))
	for _, r := range s.prices {
		rows = append(rows, r)
	}
	return pricing.AsOf(rows, symbols, asOf), nil
}

func (s *MemoryStore) PricesInRange(_ context.Context, symbols []string, start, end time.Time) ([]model.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := symbolSet(symbols)
	var out []model.PriceRecord
	for k, r := range s.prices {
		if _, ok := wanted[k.symbol]; !ok {
			continue
		}
		if k.date.Before(start) || k.date.After(end) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PriceDate.Equal(out[j].PriceDate) {
			return out[i].PriceDate.Before(out[j].PriceDate)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (s *MemoryStore) PriceDates(ctx context.Context, symbols []string, start, end time.Time) ([]time.Time, error) {
	rows, err := s.PricesInRange(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	var dates []time.Time
	for _, r := range rows {
		if n := len(dates); n > 0 && dates[n-1].Equal(r.PriceDate) {
			continue
		}
		dates = append(dates, r.PriceDate)
	}
	return dates, nil
}

// --- Job runs ---

func (s *MemoryStore) CreateJobRun(_ context.Context, run *model.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[run.ID]; ok {
		return fmt.Errorf("job run %s already exists", run.ID)
	}
	s.jobs[run.ID] = *run
	return nil
}

func (s *MemoryStore) FinishJobRun(_ context.Context, run *model.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[run.ID]; !ok {
		return fmt.Errorf("job run %s: %w", run.ID, ErrNotFound)
	}
	// Store a copy to avoid external mutation.
	cp := *run
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		cp.FinishedAt = &finished
	}
	s.jobs[run.ID] = cp
	return nil
}

func (s *MemoryStore) GetJobRun(_ context.Context, id string) (*model.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job run %s: %w", id, ErrNotFound)
	}
	return &run, nil
}

func symbolSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}
