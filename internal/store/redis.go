package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
)

// unpricedMarker caches "no close at or before this date".
const unpricedMarker = "-"

// CachedStore wraps a primary Store with a Redis cache for as-of price
// lookups and the traded symbol list. Writes go to the primary store and
// invalidate the affected keys; reads check Redis first then fall back to
// the primary.
//
// As-of entries live under a per-symbol generation that UpsertPrices bumps
// after writing the primary. A reader that loaded a close from the primary
// before a concurrent upsert populates the generation it started with, which
// no later reader looks at.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertTrades(ctx context.Context, trades []model.Trade) (int, int, error) {
	inserted, duplicates, err := s.primary.InsertTrades(ctx, trades)
	if err != nil {
		return 0, 0, err
	}
	if inserted > 0 {
		s.rdb.Del(ctx, tradedSymbolsKey())
	}
	return inserted, duplicates, nil
}

func (s *CachedStore) UpsertPrices(ctx context.Context, records []model.PriceRecord) error {
	if err := s.primary.UpsertPrices(ctx, records); err != nil {
		return err
	}
	// A new close can change the answer for any later as-of date.
	seen := make(map[string]struct{}, len(records))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, r := range records {
			if _, ok := seen[r.Symbol]; ok {
				continue
			}
			seen[r.Symbol] = struct{}{}
			p.Incr(ctx, priceGenKey(r.Symbol))
		}
		return nil
	})
	if err != nil {
		slog.Warn("price cache invalidation failed", "symbols", len(seen), "error", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestPricesAsOf(ctx context.Context, symbols []string, asOf time.Time) (map[string]model.PriceRecord, error) {
	if len(symbols) == 0 {
		return s.primary.LatestPricesAsOf(ctx, symbols, asOf)
	}
	gens, err := s.generations(ctx, symbols)
	if err != nil {
		slog.Warn("price cache unavailable, reading primary", "error", err)
		return s.primary.LatestPricesAsOf(ctx, symbols, asOf)
	}

	field := model.FormatDate(asOf)
	out := make(map[string]model.PriceRecord, len(symbols))

	cmds := make([]*redis.StringCmd, len(symbols))
	_, _ = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, sym := range symbols {
			cmds[i] = p.HGet(ctx, asOfKey(sym, gens[i]), field)
		}
		return nil
	})

	var missing []string
	missingGen := make(map[string]int64)
	for i, sym := range symbols {
		raw, err := cmds[i].Result()
		if err != nil {
			missing = append(missing, sym)
			missingGen[sym] = gens[i]
			continue
		}
		if raw == unpricedMarker {
			metrics.PriceCacheLookups.WithLabelValues("hit").Inc()
			continue
		}
		var r model.PriceRecord
		if json.Unmarshal([]byte(raw), &r) != nil {
			missing = append(missing, sym)
			missingGen[sym] = gens[i]
			continue
		}
		metrics.PriceCacheLookups.WithLabelValues("hit").Inc()
		out[sym] = r
	}
	if len(missing) == 0 {
		return out, nil
	}
	metrics.PriceCacheLookups.WithLabelValues("miss").Add(float64(len(missing)))

	// Cache miss: read from primary.
	fetched, err := s.primary.LatestPricesAsOf(ctx, missing, asOf)
	if err != nil {
		return nil, err
	}

	_, _ = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, sym := range missing {
			value := unpricedMarker
			if r, ok := fetched[sym]; ok {
				out[sym] = r
				if data, err := json.Marshal(r); err == nil {
					value = string(data)
				}
			}
			key := asOfKey(sym, missingGen[sym])
			p.HSet(ctx, key, field, value)
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	return out, nil
}

// generations reads the current cache generation of each symbol. Symbols
// never upserted through this cache are at generation 0.
func (s *CachedStore) generations(ctx context.Context, symbols []string) ([]int64, error) {
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = priceGenKey(sym)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	gens := make([]int64, len(symbols))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			gens[i], _ = strconv.ParseInt(str, 10, 64)
		}
	}
	return gens, nil
}

func (s *CachedStore) TradedSymbols(ctx context.Context) ([]string, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, tradedSymbolsKey()).Bytes()
	if err == nil {
		var symbols []string
		if json.Unmarshal(data, &symbols) == nil {
			return symbols, nil
		}
	}

	// Cache miss.
	symbols, err := s.primary.TradedSymbols(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(symbols); err == nil {
		s.rdb.Set(ctx, tradedSymbolsKey(), data, s.ttl)
	}
	return symbols, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, f)
}

func (s *CachedStore) PricesInRange(ctx context.Context, symbols []string, start, end time.Time) ([]model.PriceRecord, error) {
	return s.primary.PricesInRange(ctx, symbols, start, end)
}

func (s *CachedStore) PriceDates(ctx context.Context, symbols []string, start, end time.Time) ([]time.Time, error) {
	return s.primary.PriceDates(ctx, symbols, start, end)
}

func (s *CachedStore) CreateJobRun(ctx context.Context, run *model.JobRun) error {
	return s.primary.CreateJobRun(ctx, run)
}

func (s *CachedStore) FinishJobRun(ctx context.Context, run *model.JobRun) error {
	return s.primary.FinishJobRun(ctx, run)
}

func (s *CachedStore) GetJobRun(ctx context.Context, id string) (*model.JobRun, error) {
	return s.primary.GetJobRun(ctx, id)
}

// --- Cache keys ---

func asOfKey(symbol string, gen int64) string {
	return fmt.Sprintf("prices:asof:%s:%d", symbol, gen)
}

func priceGenKey(symbol string) string { return fmt.Sprintf("prices:gen:%s", symbol) }
func tradedSymbolsKey() string         { return "trades:symbols" }
