package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/portfolio-engine/internal/model"
)

// DefaultEODHDBaseURL is the public EODHD API endpoint.
const DefaultEODHDBaseURL = "https://eodhd.com"

var errNoAPIKey = errors.New("eodhd api key not configured")

// eodhdBar is one row of the /api/eod response.
type eodhdBar struct {
	Date          string          `json:"date"`
	Close         decimal.Decimal `json:"close"`
	AdjustedClose decimal.Decimal `json:"adjusted_close"`
}

// EODHDProvider reads daily closes from the EODHD REST API.
type EODHDProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewEODHD returns an EODHD provider. Without an API key every symbol is
// reported as failed so the chain moves on.
func NewEODHD(apiKey, baseURL string, rps float64) *EODHDProvider {
	if baseURL == "" {
		baseURL = DefaultEODHDBaseURL
	}
	if rps <= 0 {
		rps = 5
	}
	return &EODHDProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 2),
	}
}

func (*EODHDProvider) Name() string { return EODHD }

// FetchEOD returns the last close at or before asOf, stamped with asOf.
func (e *EODHDProvider) FetchEOD(ctx context.Context, symbols []string, asOf time.Time) ([]model.PricePoint, []string) {
	asOf = model.Day(asOf)
	var points []model.PricePoint
	var failed []string
	for _, raw := range symbols {
		sym := normalizeSymbol(raw)
		if sym == "" {
			continue
		}
		bars, err := e.fetch(ctx, sym, asOf.Add(-eodLookback), asOf)
		if err != nil {
			slog.Warn("eodhd eod fetch failed", "symbol", sym, "error", err)
			failed = append(failed, sym)
			continue
		}
		points = append(points, model.PricePoint{
			Symbol:     sym,
			PriceDate:  asOf,
			ClosePrice: bars[len(bars)-1].ClosePrice,
			Currency:   "USD",
		})
	}
	return points, failed
}

// FetchHistory returns every daily close in [start, end].
func (e *EODHDProvider) FetchHistory(ctx context.Context, symbols []string, start, end time.Time) ([]model.PricePoint, []string) {
	var points []model.PricePoint
	var failed []string
	for _, raw := range symbols {
		sym := normalizeSymbol(raw)
		if sym == "" {
			continue
		}
		bars, err := e.fetch(ctx, sym, model.Day(start), model.Day(end))
		if err != nil {
			slog.Warn("eodhd history fetch failed", "symbol", sym, "error", err)
			failed = append(failed, sym)
			continue
		}
		points = append(points, bars...)
	}
	return points, failed
}

// fetch returns the positive closes dated in [start, end], oldest first.
func (e *EODHDProvider) fetch(ctx context.Context, symbol string, start, end time.Time) ([]model.PricePoint, error) {
	if e.apiKey == "" {
		return nil, errSymbol(EODHD, symbol, errNoAPIKey)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, errSymbol(EODHD, symbol, err)
	}

	q := url.Values{}
	q.Set("fmt", "json")
	q.Set("api_token", e.apiKey)
	q.Set("from", model.FormatDate(start))
	q.Set("to", model.FormatDate(end))
	endpoint := fmt.Sprintf("%s/api/eod/%s?%s", e.baseURL, url.PathEscape(eodhdTicker(symbol)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errSymbol(EODHD, symbol, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errSymbol(EODHD, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errSymbol(EODHD, symbol, fmt.Errorf("status %d", resp.StatusCode))
	}

	var rows []eodhdBar
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, errSymbol(EODHD, symbol, fmt.Errorf("decode: %w", err))
	}

	var out []model.PricePoint
	for _, row := range rows {
		day, err := time.Parse(model.DateLayout, row.Date)
		if err != nil || day.Before(start) || day.After(end) || !row.Close.IsPositive() {
			continue
		}
		out = append(out, model.PricePoint{
			Symbol:     symbol,
			PriceDate:  day,
			ClosePrice: row.Close,
			Currency:   "USD",
		})
	}
	if len(out) == 0 {
		return nil, errSymbol(EODHD, symbol, errNoBars)
	}
	return out, nil
}

// eodhdTicker qualifies a bare symbol with the US exchange suffix.
func eodhdTicker(symbol string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + ".US"
}
