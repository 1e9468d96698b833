// Package correlation computes Pearson correlation between dated return
// series.
//
// Two series are only compared on the dates both of them carry a return.
// A coefficient is defined when at least MinShared dates are shared and
// neither side has zero variance; otherwise it is reported as 0.
package correlation

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// MinShared is the fewest shared dates for which a coefficient is defined.
const MinShared = 2

// Returns maps a date to the return observed on it.
type Returns map[time.Time]float64

// Pearson returns the correlation coefficient of x and y, or 0 when it is
// undefined (mismatched lengths, too few points, zero variance).
func Pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < MinShared {
		return 0
	}
	if stat.Variance(x, nil) <= 0 || stat.Variance(y, nil) <= 0 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

// Align returns the values of a and b on their shared dates, oldest first.
func Align(a, b Returns) (x, y []float64) {
	shared := make([]time.Time, 0, min(len(a), len(b)))
	for day := range a {
		if _, ok := b[day]; ok {
			shared = append(shared, day)
		}
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i].Before(shared[j]) })

	x = make([]float64, len(shared))
	y = make([]float64, len(shared))
	for i, day := range shared {
		x[i] = a[day]
		y[i] = b[day]
	}
	return x, y
}

// Matrix builds the full symmetric matrix over symbols. The diagonal is
// exactly 1 and symbols without returns correlate 0 with everything else.
func Matrix(symbols []string, returns map[string]Returns) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = make(map[string]float64, len(symbols))
	}

	for i, left := range symbols {
		out[left][left] = 1.0
		for _, right := range symbols[i+1:] {
			x, y := Align(returns[left], returns[right])
			r := Pearson(x, y)
			out[left][right] = r
			out[right][left] = r
		}
	}
	return out
}
