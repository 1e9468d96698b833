package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TradingDays annualizes daily statistics.
const TradingDays = 252

// tailProbability is the VaR/CVaR confidence tail (95%).
const tailProbability = 0.05

// SampleStdDev is the N-1 standard deviation, or 0 with fewer than two values.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sd := stat.StdDev(values, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}

// AnnualizedVolatility scales the daily sample deviation by sqrt(252).
func AnnualizedVolatility(returns []float64) float64 {
	return SampleStdDev(returns) * math.Sqrt(TradingDays)
}

// Sharpe is the annualized mean-over-deviation ratio with a zero risk-free
// rate, or 0 when the deviation is 0.
func Sharpe(returns []float64) float64 {
	sd := SampleStdDev(returns)
	if sd <= 0 {
		return 0
	}
	return stat.Mean(returns, nil) / sd * math.Sqrt(TradingDays)
}

// Percentile returns the nearest-rank value at p of the ascending-sorted
// values: index round(p*(n-1)), halves to even, clamped to the slice.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	ordered := append([]float64(nil), values...)
	sort.Float64s(ordered)
	idx := int(math.RoundToEven(float64(len(ordered)-1) * p))
	idx = max(0, min(len(ordered)-1, idx))
	return ordered[idx]
}

// VaR95 is the 5th percentile daily return.
func VaR95(returns []float64) float64 {
	return Percentile(returns, tailProbability)
}

// CVaR95 is the mean of the returns at or below var; var itself when no
// return qualifies.
func CVaR95(returns []float64, v float64) float64 {
	var tail []float64
	for _, r := range returns {
		if r <= v {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return v
	}
	return stat.Mean(tail, nil)
}

// MaxDrawdown is the deepest peak-to-trough decline over prices, as a
// non-positive fraction.
func MaxDrawdown(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	peak := prices[0]
	worst := 0.0
	for _, px := range prices {
		peak = math.Max(peak, px)
		if peak > 0 {
			worst = math.Min(worst, px/peak-1)
		}
	}
	return worst
}
