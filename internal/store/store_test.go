package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/portfolio-engine/internal/ledger"
	"github.com/atmx/portfolio-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTrade(account, symbol string, date time.Time, side model.Side, qty, price float64) model.Trade {
	t := model.Trade{
		Account:   account,
		Symbol:    symbol,
		TradeDate: date,
		Side:      side,
		Quantity:  d(qty),
		Price:     d(price),
		Fees:      decimal.Zero,
		Currency:  "USD",
	}
	t.UID = ledger.TradeUID(t)
	return t
}

func price(symbol string, date time.Time, px float64, source string) model.PriceRecord {
	return model.PriceRecord{Symbol: symbol, PriceDate: date, ClosePrice: d(px), Currency: "USD", Source: source}
}

// runStoreSuite exercises the Store contract against one implementation.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("InsertTradesDeduplicates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := newTrade("ACC1", "AAPL", model.Date(2026, 2, 10), model.SideBuy, 10, 100)
		b := newTrade("ACC1", "MSFT", model.Date(2026, 2, 9), model.SideBuy, 5, 300)

		inserted, dups, err := s.InsertTrades(ctx, []model.Trade{a, b, a})
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)
		assert.Equal(t, 1, dups)

		inserted, dups, err = s.InsertTrades(ctx, []model.Trade{a})
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)
		assert.Equal(t, 1, dups)

		trades, err := s.ListTrades(ctx, TradeFilter{})
		require.NoError(t, err)
		require.Len(t, trades, 2)
		assert.Equal(t, "MSFT", trades[0].Symbol, "ordered by trade date")
		assert.True(t, trades[1].Quantity.Equal(d(10)))
		assert.True(t, trades[0].TradeDate.Equal(model.Date(2026, 2, 9)))
		assert.NotZero(t, trades[0].ID)
		assert.Equal(t, b.UID, trades[0].UID)
	})

	t.Run("ListTradesFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, _, err := s.InsertTrades(ctx, []model.Trade{
			newTrade("ACC1", "AAPL", model.Date(2026, 2, 10), model.SideBuy, 10, 100),
			newTrade("ACC2", "AAPL", model.Date(2026, 2, 11), model.SideBuy, 1, 101),
			newTrade("ACC1", "AAPL", model.Date(2026, 2, 12), model.SideSell, 4, 120),
		})
		require.NoError(t, err)

		acc1, err := s.ListTrades(ctx, TradeFilter{Account: "ACC1"})
		require.NoError(t, err)
		assert.Len(t, acc1, 2)

		through, err := s.ListTrades(ctx, TradeFilter{Through: model.Date(2026, 2, 11)})
		require.NoError(t, err)
		assert.Len(t, through, 2)

		symbols, err := s.TradedSymbols(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"AAPL"}, symbols)
	})

	t.Run("UpsertPricesIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		day := model.Date(2026, 2, 10)

		require.NoError(t, s.UpsertPrices(ctx, []model.PriceRecord{price("AAPL", day, 100, "demo")}))
		require.NoError(t, s.UpsertPrices(ctx, []model.PriceRecord{price("AAPL", day, 101.5, "eodhd")}))

		rows, err := s.PricesInRange(ctx, []string{"AAPL"}, day, day)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].ClosePrice.Equal(d(101.5)))
		assert.Equal(t, "eodhd", rows[0].Source)
	})

	t.Run("LatestPricesAsOf", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertPrices(ctx, []model.PriceRecord{
			price("AAPL", model.Date(2026, 2, 9), 100, "demo"),
			price("AAPL", model.Date(2026, 2, 11), 102, "demo"),
			price("MSFT", model.Date(2026, 2, 12), 300, "demo"),
		}))

		got, err := s.LatestPricesAsOf(ctx, []string{"AAPL", "MSFT", "NOPX"}, model.Date(2026, 2, 10))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got["AAPL"].ClosePrice.Equal(d(100)))
		assert.True(t, got["AAPL"].PriceDate.Equal(model.Date(2026, 2, 9)))

		got, err = s.LatestPricesAsOf(ctx, []string{"AAPL", "MSFT"}, model.Date(2026, 2, 12))
		require.NoError(t, err)
		assert.True(t, got["AAPL"].ClosePrice.Equal(d(102)))
		assert.True(t, got["MSFT"].ClosePrice.Equal(d(300)))
	})

	t.Run("RangeAndDates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertPrices(ctx, []model.PriceRecord{
			price("MSFT", model.Date(2026, 2, 10), 300, "demo"),
			price("AAPL", model.Date(2026, 2, 10), 100, "demo"),
			price("AAPL", model.Date(2026, 2, 9), 99, "demo"),
			price("GOOG", model.Date(2026, 2, 8), 50, "demo"),
			price("AAPL", model.Date(2026, 2, 20), 120, "demo"),
		}))

		rows, err := s.PricesInRange(ctx, []string{"AAPL", "MSFT", "GOOG"}, model.Date(2026, 2, 9), model.Date(2026, 2, 10))
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "AAPL", rows[0].Symbol)
		assert.True(t, rows[0].PriceDate.Equal(model.Date(2026, 2, 9)))
		assert.Equal(t, "AAPL", rows[1].Symbol)
		assert.Equal(t, "MSFT", rows[2].Symbol)

		dates, err := s.PriceDates(ctx, []string{"AAPL", "MSFT"}, model.Date(2026, 2, 1), model.Date(2026, 2, 28))
		require.NoError(t, err)
		require.Len(t, dates, 3)
		assert.True(t, dates[0].Equal(model.Date(2026, 2, 9)))
		assert.True(t, dates[2].Equal(model.Date(2026, 2, 20)))
	})

	t.Run("JobRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := &model.JobRun{
			ID:        "3f2d7c1e-0000-4000-8000-000000000001",
			JobName:   "price_refresh",
			Status:    model.JobRunning,
			StartedAt: time.Date(2026, 2, 10, 22, 30, 0, 0, time.UTC),
			Details:   `{"providers":["demo"]}`,
		}
		require.NoError(t, s.CreateJobRun(ctx, run))

		got, err := s.GetJobRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobRunning, got.Status)
		assert.Nil(t, got.FinishedAt)

		finished := run.StartedAt.Add(2 * time.Second)
		run.Status = model.JobSuccess
		run.FinishedAt = &finished
		run.RowsProcessed = 3
		require.NoError(t, s.FinishJobRun(ctx, run))

		got, err = s.GetJobRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobSuccess, got.Status)
		assert.Equal(t, 3, got.RowsProcessed)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(finished))
		assert.JSONEq(t, `{"providers":["demo"]}`, got.Details)

		_, err = s.GetJobRun(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, url)
		require.NoError(t, err)
		t.Cleanup(pool.Close)

		require.NoError(t, Migrate(ctx, pool))
		_, err = pool.Exec(ctx, `TRUNCATE trades, prices_eod, job_runs RESTART IDENTITY`)
		require.NoError(t, err)
		return NewPostgresStore(pool)
	})
}

func TestCachedStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	runStoreSuite(t, func(t *testing.T) Store {
		rdb := redis.NewClient(opts)
		require.NoError(t, rdb.FlushDB(context.Background()).Err())
		t.Cleanup(func() { rdb.Close() })
		return NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	})
}

// interleavedPrimary runs onRead after loading closes from the primary and
// before handing them back, so a concurrent write can land in between.
type interleavedPrimary struct {
	*MemoryStore
	onRead func()
}

func (p *interleavedPrimary) LatestPricesAsOf(ctx context.Context, symbols []string, asOf time.Time) (map[string]model.PriceRecord, error) {
	out, err := p.MemoryStore.LatestPricesAsOf(ctx, symbols, asOf)
	if p.onRead != nil {
		hook := p.onRead
		p.onRead = nil
		hook()
	}
	return out, err
}

func TestCachedStore_UpsertDuringMissIsNotMasked(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	require.NoError(t, rdb.FlushDB(ctx).Err())

	primary := &interleavedPrimary{MemoryStore: NewMemoryStore()}
	cached := NewCachedStore(primary, rdb, time.Minute)
	day := model.Date(2026, 2, 10)
	require.NoError(t, cached.UpsertPrices(ctx, []model.PriceRecord{price("AAPL", day, 100, "demo")}))

	// The reader loads 100 from the primary, then a refresh writes 105
	// before the reader populates the cache.
	primary.onRead = func() {
		require.NoError(t, cached.UpsertPrices(ctx, []model.PriceRecord{price("AAPL", day, 105, "demo")}))
	}
	got, err := cached.LatestPricesAsOf(ctx, []string{"AAPL"}, day)
	require.NoError(t, err)
	assert.True(t, got["AAPL"].ClosePrice.Equal(d(100)), "in-flight read returns what it loaded")

	got, err = cached.LatestPricesAsOf(ctx, []string{"AAPL"}, day)
	require.NoError(t, err)
	assert.True(t, got["AAPL"].ClosePrice.Equal(d(105)), "next read must see the upserted close, got %s", got["AAPL"].ClosePrice)

	// And the fresh value is now served from the cache.
	got, err = cached.LatestPricesAsOf(ctx, []string{"AAPL"}, day)
	require.NoError(t, err)
	assert.True(t, got["AAPL"].ClosePrice.Equal(d(105)))
}

func TestCacheKeys_IncludeGeneration(t *testing.T) {
	assert.NotEqual(t, asOfKey("AAPL", 1), asOfKey("AAPL", 2))
	assert.Equal(t, "prices:asof:AAPL:0", asOfKey("AAPL", 0))
	assert.Equal(t, "prices:gen:AAPL", priceGenKey("AAPL"))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	run := &model.JobRun{ID: "job-1", JobName: "price_refresh", Status: model.JobRunning, StartedAt: time.Now()}
	require.NoError(t, s.CreateJobRun(ctx, run))

	got, err := s.GetJobRun(ctx, "job-1")
	require.NoError(t, err)
	got.Status = model.JobFailed

	again, err := s.GetJobRun(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, again.Status)
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	st, cleanup, err := Open(ctx, OpenOptions{})
	require.NoError(t, err)
	cleanup()
	assert.IsType(t, &MemoryStore{}, st)

	path := t.TempDir() + "/portfolio.db"
	st, cleanup, err = Open(ctx, OpenOptions{SQLitePath: path})
	require.NoError(t, err)
	defer cleanup()
	require.IsType(t, &SQLiteStore{}, st)

	_, _, err = st.InsertTrades(ctx, []model.Trade{newTrade("ACC1", "AAPL", model.Date(2026, 2, 10), model.SideBuy, 1, 100)})
	require.NoError(t, err)

	_, _, err = Open(ctx, OpenOptions{RedisURL: "not a url"})
	assert.Error(t, err)
}
