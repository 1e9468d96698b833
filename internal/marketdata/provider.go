// Package marketdata exposes end-of-day price providers as one capability
// and composes them into ordered fallback chains.
//
// Providers form a closed set resolved by name through a Registry. They never
// return raw errors to the engine: every symbol a provider cannot serve is
// reported in its failed list instead.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atmx/portfolio-engine/internal/model"
)

// Provider names.
const (
	Demo     = "demo"
	YFinance = "yfinance"
	EODHD    = "eodhd"
)

// Provider fetches end-of-day closes. Symbols it cannot serve, for any
// reason, are returned in failed.
type Provider interface {
	Name() string
	FetchEOD(ctx context.Context, symbols []string, asOf time.Time) (points []model.PricePoint, failed []string)
	FetchHistory(ctx context.Context, symbols []string, start, end time.Time) (points []model.PricePoint, failed []string)
}

// Options carries provider credentials and throttling settings.
type Options struct {
	EODHDAPIKey  string
	EODHDBaseURL string
	YFinanceRPS  float64
	EODHDRPS     float64
}

// constructors is the closed table of known providers.
var constructors = map[string]func(Options) Provider{
	Demo:     func(Options) Provider { return NewDemo() },
	YFinance: func(o Options) Provider { return NewYFinance(o.YFinanceRPS) },
	EODHD:    func(o Options) Provider { return NewEODHD(o.EODHDAPIKey, o.EODHDBaseURL, o.EODHDRPS) },
}

// Known returns the sorted names of every provider the engine can construct.
func Known() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsKnown reports whether name is a constructible provider.
func IsKnown(name string) bool {
	_, ok := constructors[normalizeName(name)]
	return ok
}

// Registry resolves provider names against an allow-list.
type Registry struct {
	providers map[string]Provider
	defaults  []string
}

// NewRegistry builds the allowed providers. defaults is the chain used when a
// caller does not request one; it must be a subset of allowed.
func NewRegistry(opts Options, allowed, defaults []string) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	for _, name := range dedupeNames(allowed) {
		ctor, ok := constructors[name]
		if !ok {
			return nil, unsupported(name)
		}
		r.providers[name] = ctor(opts)
	}

	chain, err := r.Resolve(defaults)
	if err != nil && len(dedupeNames(defaults)) > 0 {
		return nil, err
	}
	r.defaults = chain
	return r, nil
}

// NewRegistryWith builds a registry over explicit provider instances, all of
// them allowed, with defaults as the default chain.
func NewRegistryWith(defaults []string, providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[normalizeName(p.Name())] = p
	}
	r.defaults = dedupeNames(defaults)
	return r
}

// Resolve turns a requested provider list into a validated, deduplicated
// chain, preserving order. An empty request yields the default chain.
func (r *Registry) Resolve(requested []string) ([]string, error) {
	names := dedupeNames(requested)
	if len(names) == 0 {
		if len(r.defaults) == 0 {
			return nil, model.Invalidf("No market data provider configured")
		}
		return append([]string(nil), r.defaults...), nil
	}
	for _, name := range names {
		if _, ok := r.providers[name]; !ok {
			return nil, unsupported(name)
		}
	}
	return names, nil
}

// Provider returns the allowed provider with the given name.
func (r *Registry) Provider(name string) (Provider, error) {
	p, ok := r.providers[normalizeName(name)]
	if !ok {
		return nil, unsupported(name)
	}
	return p, nil
}

// Chain resolves requested and returns the providers in chain order.
func (r *Registry) Chain(requested []string) ([]Provider, []string, error) {
	names, err := r.Resolve(requested)
	if err != nil {
		return nil, nil, err
	}
	chain := make([]Provider, 0, len(names))
	for _, name := range names {
		chain = append(chain, r.providers[name])
	}
	return chain, names, nil
}

// Defaults returns the default chain.
func (r *Registry) Defaults() []string {
	return append([]string(nil), r.defaults...)
}

func unsupported(name string) error {
	return model.Invalidf("Unsupported market data provider: %s", name)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func dedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name := normalizeName(raw)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// normalizeSymbol upper-cases and trims a symbol.
func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func errSymbol(provider, symbol string, err error) error {
	return fmt.Errorf("%s: %s: %w", provider, symbol, err)
}
