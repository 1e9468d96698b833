// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesImported counts submitted trade rows by outcome (inserted, duplicate).
	TradesImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_trades_imported_total",
		Help: "Trade rows submitted to the ledger",
	}, []string{"result"})

	// PricesUpserted counts stored closes by provider.
	PricesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_prices_upserted_total",
		Help: "End-of-day closes written to the price store",
	}, []string{"source"})

	// PriceRefreshRuns counts refresh jobs by final status.
	PriceRefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_refresh_runs_total",
		Help: "Price refresh job runs by status",
	}, []string{"status"})

	// ProviderFetchLatency tracks one provider call by provider and kind (eod, history).
	ProviderFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_provider_fetch_seconds",
		Help:    "Market data provider call latency in seconds",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "kind"})

	// ProviderFailedSymbols counts symbols a provider reported as failed.
	ProviderFailedSymbols = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_provider_failed_symbols_total",
		Help: "Symbols a market data provider could not serve",
	}, []string{"provider", "kind"})

	// ComputeLatency tracks engine computations (positions, metrics, analytics, compare).
	ComputeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_compute_seconds",
		Help:    "Engine computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// PriceCacheLookups counts as-of price cache lookups by result (hit, miss).
	PriceCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_cache_lookups_total",
		Help: "As-of price cache lookups",
	}, []string{"result"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSince records the time elapsed since start for operation.
func ObserveSince(operation string, start time.Time) {
	ComputeLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// unmatchedRoute labels requests no chi route matched.
const unmatchedRoute = "unmatched"

// routePattern returns the matched chi pattern, never the raw path, so
// label cardinality stays bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
