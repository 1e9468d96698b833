package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"

	"github.com/atmx/portfolio-engine/internal/compare"
	"github.com/atmx/portfolio-engine/internal/config"
	"github.com/atmx/portfolio-engine/internal/ledger"
	"github.com/atmx/portfolio-engine/internal/marketdata"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/portfolio"
	"github.com/atmx/portfolio-engine/internal/store"
	"github.com/atmx/portfolio-engine/internal/symbol"
)

var commands = []subcommands.Command{
	&positionsCmd{},
	&metricsCmd{},
	&analyticsCmd{},
	&compareCmd{},
	&refreshCmd{},
	&importCmd{},
	&searchCmd{},
}

// run loads configuration, opens the store and hands the service to fn.
// The result of fn is printed to stdout as indented JSON.
func run(ctx context.Context, fn func(ctx context.Context, svc *portfolio.Service) (any, error)) subcommands.ExitStatus {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	st, closeStore, err := store.Open(ctx, store.OpenOptions{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		RedisURL:    cfg.RedisURL,
		RedisTTL:    cfg.RedisTTL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer closeStore()

	registry, err := cfg.Registry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	svc := portfolio.NewService(st, registry)
	svc.UseSearcher(marketdata.NewYFinanceSearch(cfg.MarketData.YFinanceRPS))

	out, err := fn(ctx, svc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// optionalDate parses a YYYY-MM-DD flag value; empty yields the zero time.
func optionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return model.ParseDate(s)
}

// dateOrToday parses a YYYY-MM-DD flag value; empty yields today.
func dateOrToday(s string) (time.Time, error) {
	if s == "" {
		return model.Today(), nil
	}
	return model.ParseDate(s)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func argStrings(f *flag.FlagSet) []string {
	var out []string
	for _, a := range f.Args() {
		out = append(out, symbol.Split(a)...)
	}
	return out
}

// --- positions ---

type positionsCmd struct {
	date    string
	account string
}

func (*positionsCmd) Name() string     { return "positions" }
func (*positionsCmd) Synopsis() string { return "list valued positions as of a date" }
func (*positionsCmd) Usage() string {
	return `portfolioctl positions [-d <date>] [-account <account>]

  Replays the ledger up to the date and values each lot at its latest close.
`
}

func (c *positionsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "snapshot date YYYY-MM-DD (defaults to today)")
	f.StringVar(&c.account, "account", "", "restrict to one account")
}

func (c *positionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	snapshot, err := dateOrToday(c.date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, svc *portfolio.Service) (any, error) {
		return svc.Positions(ctx, snapshot, c.account)
	})
}

// --- metrics ---

type metricsCmd struct {
	date    string
	account string
}

func (*metricsCmd) Name() string     { return "metrics" }
func (*metricsCmd) Synopsis() string { return "aggregate totals and exposures as of a date" }
func (*metricsCmd) Usage() string {
	return `portfolioctl metrics [-d <date>] [-account <account>]
`
}

func (c *metricsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "snapshot date YYYY-MM-DD (defaults to today)")
	f.StringVar(&c.account, "account", "", "restrict to one account")
}

func (c *metricsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	snapshot, err := dateOrToday(c.date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, svc *portfolio.Service) (any, error) {
		return svc.Metrics(ctx, snapshot, c.account)
	})
}

// --- analytics ---

type analyticsCmd struct {
	date    string
	start   string
	account string
}

func (*analyticsCmd) Name() string     { return "analytics" }
func (*analyticsCmd) Synopsis() string { return "risk and return statistics over time" }
func (*analyticsCmd) Usage() string {
	return `portfolioctl analytics [-d <date>] [-start <date>] [-account <account>]

  Values the portfolio on every stored price date from start (default: the
  first trade) to the snapshot and reports volatility, Sharpe, drawdown,
  VaR/CVaR and concentration.
`
}

func (c *analyticsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "snapshot date YYYY-MM-DD (defaults to today)")
	f.StringVar(&c.start, "start", "", "start date YYYY-MM-DD (defaults to the earliest trade)")
	f.StringVar(&c.account, "account", "", "restrict to one account")
}

func (c *analyticsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	snapshot, err := dateOrToday(c.date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	start, err := optionalDate(c.start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, svc *portfolio.Service) (any, error) {
		return svc.Analytics(ctx, snapshot, start, c.account)
	})
}

// --- compare ---

type compareCmd struct {
	start     string
	end       string
	providers string
}

func (*compareCmd) Name() string     { return "compare" }
func (*compareCmd) Synopsis() string { return "compare price paths and correlations" }
func (*compareCmd) Usage() string {
	return `portfolioctl compare [-start <date>] [-end <date>] [-providers a,b] SYMBOL...

  Backfills missing history through the provider chain, then reports the
  aligned series, per-symbol summary and return correlations.
`
}

func (c *compareCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.start, "start", "", "start date YYYY-MM-DD (defaults to 180 days before end)")
	f.StringVar(&c.end, "end", "", "end date YYYY-MM-DD (defaults to today)")
	f.StringVar(&c.providers, "providers", "", "comma-separated provider chain (defaults to configuration)")
}

func (c *compareCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	start, err := optionalDate(c.start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	end, err := optionalDate(c.end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	req := compare.Request{
		Symbols:   argStrings(f),
		Start:     start,
		End:       end,
		Providers: splitList(c.providers),
	}
	return run(ctx, func(ctx context.Context, svc *portfolio.Service) (any, error) {
		return svc.Compare(ctx, req)
	})
}

// --- refresh ---

type refreshCmd struct {
	date      string
	providers string
}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "fetch end-of-day closes into the price store" }
func (*refreshCmd) Usage() string {
	return `portfolioctl refresh [-d <date>] [-providers a,b] [SYMBOL...]

  Without symbols, every traded symbol is refreshed.
`
}

func (c *refreshCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "price date YYYY-MM-DD (defaults to today)")
	f.StringVar(&c.providers, "providers", "", "comma-separated provider chain (defaults to configuration)")
}

func (c *refreshCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	priceDate, err := dateOrToday(c.date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	symbols := argStrings(f)
	providers := splitList(c.providers)
	return run(ctx, func(ctx context.Context, svc *portfolio.Service) (any, error) {
		return svc.RefreshPrices(ctx, priceDate, symbols, providers)
	})
}

// --- import ---

type importCmd struct {
	file string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "append trades from a JSON file to the ledger" }
func (*importCmd) Usage() string {
	return `portfolioctl import -f <trades.json>

  The file holds a JSON array of trade rows (account, symbol, trade_date,
  side, quantity, price, fees, currency, broker_ref). Use "-" for stdin.
  Rows already in the ledger are counted as duplicates.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "trade file (JSON array), or - for stdin")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f is required")
		return subcommands.ExitUsageError
	}
	rows, err := readTrades(c.file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, svc *portfolio.Service) (any, error) {
		return svc.ImportTrades(ctx, rows)
	})
}

func readTrades(file string) ([]ledger.TradeInput, error) {
	var r io.Reader = os.Stdin
	if file != "-" {
		fh, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		r = fh
	}
	var rows []ledger.TradeInput
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	return rows, nil
}

// --- search ---

type searchCmd struct{}

func (*searchCmd) Name() string     { return "search" }
func (*searchCmd) Synopsis() string { return "look up ticker symbols by company name" }
func (*searchCmd) Usage() string {
	return `portfolioctl search QUERY...

  The words are joined into one query of 2 to 80 characters.
`
}

func (*searchCmd) SetFlags(*flag.FlagSet) {}

func (*searchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	query := strings.Join(f.Args(), " ")
	return run(ctx, func(ctx context.Context, svc *portfolio.Service) (any, error) {
		return svc.SearchSymbols(ctx, query)
	})
}
