package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/search"
	"golang.org/x/time/rate"

	"github.com/atmx/portfolio-engine/internal/model"
)

// ErrSearchUnavailable wraps any failure of the upstream search service.
var ErrSearchUnavailable = errors.New("symbol search unavailable")

// SymbolSearcher looks up listings by company name or ticker fragment.
type SymbolSearcher interface {
	SearchSymbols(ctx context.Context, query string, limit int) ([]model.SymbolMatch, error)
}

// YFinanceSearch queries the Yahoo Finance search endpoint.
type YFinanceSearch struct {
	limiter *rate.Limiter
	quotes  func(query string, limit int) ([]models.SearchQuote, error)
}

// NewYFinanceSearch returns a searcher throttled to rps requests per second.
// A non-positive rps falls back to 2.
func NewYFinanceSearch(rps float64) *YFinanceSearch {
	if rps <= 0 {
		rps = 2
	}
	return &YFinanceSearch{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		quotes:  yahooQuotes,
	}
}

// SearchSymbols returns at most limit listings matching query.
func (y *YFinanceSearch) SearchSymbols(ctx context.Context, query string, limit int) ([]model.SymbolMatch, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	quotes, err := y.quotes(query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	return symbolMatches(quotes, limit), nil
}

func yahooQuotes(query string, limit int) ([]models.SearchQuote, error) {
	s, err := search.New()
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	defer s.Close()
	return s.Quotes(query, limit)
}

// symbolMatches drops quotes without a symbol. The name prefers the short
// listing name, then the long one, then the symbol itself.
func symbolMatches(quotes []models.SearchQuote, limit int) []model.SymbolMatch {
	out := make([]model.SymbolMatch, 0, len(quotes))
	for _, q := range quotes {
		sym := normalizeSymbol(q.Symbol)
		if sym == "" {
			continue
		}
		name := strings.TrimSpace(q.ShortName)
		if name == "" {
			name = strings.TrimSpace(q.LongName)
		}
		if name == "" {
			name = sym
		}
		out = append(out, model.SymbolMatch{
			Symbol:    sym,
			Name:      name,
			Exchange:  q.Exchange,
			QuoteType: q.QuoteType,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
