package correlation

import (
	"math"
	"testing"
	"time"
)

func day(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func returns(vals ...float64) Returns {
	r := make(Returns, len(vals))
	for i, v := range vals {
		r[day(i)] = v
	}
	return r
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPearson_PerfectlyCorrelated(t *testing.T) {
	r := Pearson([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
	if !approx(r, 1) {
		t.Errorf("expected 1, got %v", r)
	}
	r = Pearson([]float64{1, 2, 3, 4}, []float64{8, 6, 4, 2})
	if !approx(r, -1) {
		t.Errorf("expected -1, got %v", r)
	}
}

func TestPearson_Undefined(t *testing.T) {
	tests := []struct {
		name string
		x, y []float64
	}{
		{"single point", []float64{1}, []float64{2}},
		{"length mismatch", []float64{1, 2, 3}, []float64{1, 2}},
		{"zero variance", []float64{0.5, 0.5, 0.5}, []float64{1, 2, 3}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		if r := Pearson(tt.x, tt.y); r != 0 {
			t.Errorf("%s: expected 0, got %v", tt.name, r)
		}
	}
}

func TestAlign_UsesSharedDatesInOrder(t *testing.T) {
	a := Returns{day(3): 0.3, day(1): 0.1, day(2): 0.2}
	b := Returns{day(2): 2, day(3): 3, day(4): 4}

	x, y := Align(a, b)
	if len(x) != 2 || len(y) != 2 {
		t.Fatalf("expected 2 shared dates, got %d", len(x))
	}
	if x[0] != 0.2 || x[1] != 0.3 || y[0] != 2 || y[1] != 3 {
		t.Errorf("unexpected alignment x=%v y=%v", x, y)
	}
}

func TestMatrix_SymmetricWithUnitDiagonal(t *testing.T) {
	symbols := []string{"AAPL", "MSFT", "GOOG", "NODATA"}
	rets := map[string]Returns{
		"AAPL": returns(0.01, -0.02, 0.03, 0.005, -0.01),
		"MSFT": returns(0.02, -0.01, 0.025, 0.0, -0.015),
		"GOOG": returns(-0.01, 0.02, -0.02, 0.01, 0.0),
	}

	m := Matrix(symbols, rets)
	if len(m) != len(symbols) {
		t.Fatalf("expected %d rows, got %d", len(symbols), len(m))
	}
	for _, a := range symbols {
		if m[a][a] != 1.0 {
			t.Errorf("diagonal %s: expected 1, got %v", a, m[a][a])
		}
		for _, b := range symbols {
			if m[a][b] != m[b][a] {
				t.Errorf("asymmetric %s/%s: %v vs %v", a, b, m[a][b], m[b][a])
			}
			if m[a][b] < -1 || m[a][b] > 1 {
				t.Errorf("out of range %s/%s: %v", a, b, m[a][b])
			}
		}
	}
	if m["AAPL"]["MSFT"] <= 0.5 {
		t.Errorf("expected strong positive AAPL/MSFT correlation, got %v", m["AAPL"]["MSFT"])
	}
	if m["AAPL"]["NODATA"] != 0 {
		t.Errorf("expected 0 for symbol without returns, got %v", m["AAPL"]["NODATA"])
	}
}

func TestMatrix_TooFewSharedDates(t *testing.T) {
	rets := map[string]Returns{
		"A": {day(0): 0.01, day(1): 0.02},
		"B": {day(1): 0.03, day(2): 0.04},
	}
	m := Matrix([]string{"A", "B"}, rets)
	if m["A"]["B"] != 0 {
		t.Errorf("expected 0 with one shared date, got %v", m["A"]["B"])
	}
}
