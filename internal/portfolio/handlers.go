package portfolio

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/portfolio-engine/internal/compare"
	"github.com/atmx/portfolio-engine/internal/ledger"
	"github.com/atmx/portfolio-engine/internal/marketdata"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/store"
)

// --- Request types ---

// RefreshRequest is the JSON body for POST /prices/refresh.
type RefreshRequest struct {
	PriceDate string   `json:"price_date"` // YYYY-MM-DD; empty = today
	Symbols   []string `json:"symbols"`    // empty = every traded symbol
	Providers []string `json:"providers"`  // empty = default chain
}

// CompareRequest is the JSON body for POST /companies/compare.
type CompareRequest struct {
	Symbols   []string `json:"symbols"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Providers []string `json:"providers"`
}

// TradesRequest is the JSON body for POST /trades.
type TradesRequest struct {
	Trades []ledger.TradeInput `json:"trades"`
}

// Routes mounts the API handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/positions", s.GetPositions)
	r.Get("/metrics", s.GetMetrics)
	r.Get("/analytics", s.GetAnalytics)
	r.Post("/prices/refresh", s.RefreshPricesHandler)
	r.Post("/companies/compare", s.CompareHandler)
	r.Get("/companies/search", s.SearchCompanies)
	r.Post("/trades", s.ImportTradesHandler)
	r.Get("/jobs/{jobID}", s.GetJob)
}

// --- HTTP Handlers ---

// GetPositions handles GET /api/v1/positions?snapshot_date=&account=
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.queryDate(r, "snapshot_date")
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	report, err := s.Positions(r.Context(), snapshot, r.URL.Query().Get("account"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetMetrics handles GET /api/v1/metrics?snapshot_date=&account=
func (s *Service) GetMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.queryDate(r, "snapshot_date")
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	m, err := s.Metrics(r.Context(), snapshot, r.URL.Query().Get("account"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetAnalytics handles GET /api/v1/analytics?snapshot_date=&start_date=&account=
func (s *Service) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.queryDate(r, "snapshot_date")
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	var start time.Time
	if raw := r.URL.Query().Get("start_date"); raw != "" {
		if start, err = model.ParseDate(raw); err != nil {
			writeFailure(w, r, err)
			return
		}
	}

	report, err := s.Analytics(r.Context(), snapshot, start, r.URL.Query().Get("account"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RefreshPricesHandler handles POST /api/v1/prices/refresh
func (s *Service) RefreshPricesHandler(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	priceDate := s.Today()
	if req.PriceDate != "" {
		var err error
		if priceDate, err = model.ParseDate(req.PriceDate); err != nil {
			writeFailure(w, r, err)
			return
		}
	}

	result, err := s.RefreshPrices(r.Context(), priceDate, req.Symbols, req.Providers)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CompareHandler handles POST /api/v1/companies/compare
func (s *Service) CompareHandler(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	creq := compare.Request{Symbols: req.Symbols, Providers: req.Providers}
	var err error
	if req.StartDate != "" {
		if creq.Start, err = model.ParseDate(req.StartDate); err != nil {
			writeFailure(w, r, err)
			return
		}
	}
	if req.EndDate != "" {
		if creq.End, err = model.ParseDate(req.EndDate); err != nil {
			writeFailure(w, r, err)
			return
		}
	}

	report, err := s.Compare(r.Context(), creq)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ImportTradesHandler handles POST /api/v1/trades
func (s *Service) ImportTradesHandler(w http.ResponseWriter, r *http.Request) {
	var req TradesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.ImportTrades(r.Context(), req.Trades)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// jobResponse inlines the stored details document instead of quoting it.
type jobResponse struct {
	*model.JobRun
	Details json.RawMessage `json:"details,omitempty"`
}

// GetJob handles GET /api/v1/jobs/{jobID}
func (s *Service) GetJob(w http.ResponseWriter, r *http.Request) {
	run, err := s.Job(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	resp := jobResponse{JobRun: run}
	if json.Valid([]byte(run.Details)) {
		resp.Details = json.RawMessage(run.Details)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SearchCompanies handles GET /api/v1/companies/search?q=
func (s *Service) SearchCompanies(w http.ResponseWriter, r *http.Request) {
	result, err := s.SearchSymbols(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryDate reads a YYYY-MM-DD query parameter, defaulting to today.
func (s *Service) queryDate(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return s.Today(), nil
	}
	return model.ParseDate(raw)
}

// decodeBody decodes a JSON body. An empty body leaves v at its zero value.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeFailure maps err to a status: validation errors are 400, missing
// records 404, search backend failures 502, anything else 500. Detail for
// the last two stays in the log.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, verr.Msg, http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, marketdata.ErrSearchUnavailable):
		slog.Warn("symbol search failed", "path", r.URL.Path, "error", err)
		writeError(w, "Symbol search provider unavailable", http.StatusBadGateway)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
