package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// OpenOptions selects and configures the backing store.
type OpenOptions struct {
	DatabaseURL string // Postgres; wins over SQLitePath
	SQLitePath  string // used when DatabaseURL is empty
	RedisURL    string // optional as-of price cache in front of the primary
	RedisTTL    time.Duration
}

// Open connects the configured store and returns it with a cleanup func
// that releases every connection it opened. With neither a database URL
// nor a SQLite path it falls back to a non-persistent in-memory store.
func Open(ctx context.Context, opts OpenOptions) (Store, func(), error) {
	var st Store
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch {
	case opts.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		if err := Migrate(ctx, pool); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		st = NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

	case opts.SQLitePath != "":
		s, err := OpenSQLite(ctx, opts.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { s.Close() })
		st = s
		slog.Info("using SQLite store", "path", opts.SQLitePath)

	default:
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		st = NewMemoryStore()
	}

	if opts.RedisURL != "" {
		opt, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, cache lookups will fall through", "error", err)
		}
		st = NewCachedStore(st, rdb, opts.RedisTTL)
		slog.Info("Redis cache enabled", "ttl", opts.RedisTTL)
	}

	return st, closeAll, nil
}
