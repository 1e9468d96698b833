// Package symbol parses and normalizes instrument symbols.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// symbolRegex matches exchange tickers after upper-casing:
// AAPL, BRK.B, RDS-A, ^GSPC, EURUSD=X, 7203.T
var symbolRegex = regexp.MustCompile(`^[\^]?[A-Z0-9][A-Z0-9.\-=]{0,19}$`)

var ErrInvalidSymbol = errors.New("symbol: invalid symbol")

// Parse trims and upper-cases s and checks it looks like a ticker.
func Parse(s string) (string, error) {
	clean := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return clean, nil
}

// Normalize trims, upper-cases and deduplicates symbols, dropping blanks and
// keeping first-seen order.
func Normalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		clean := strings.ToUpper(strings.TrimSpace(raw))
		if clean == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

// NormalizeSorted is Normalize with the result sorted.
func NormalizeSorted(symbols []string) []string {
	out := Normalize(symbols)
	sort.Strings(out)
	return out
}

// Split parses a comma-separated list such as a query parameter.
func Split(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	return Normalize(strings.Split(list, ","))
}
