package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/saferoute/route_scoring/internal/contract"
	"github.com/saferoute/route_scoring/internal/controller"
	"github.com/saferoute/route_scoring/internal/health"
	"github.com/saferoute/route_scoring/obs"
	"github.com/saferoute/route_scoring/policy"
)

const (
	maxRequestBytes = 1 << 20
	livenessText    = "route scoring proxy is running"
)

// Config tunes the HTTP surface.
type Config struct {
	// BudgetMS bounds one /score-route request end to end. Zero disables it.
	BudgetMS int
	Metrics  *policy.Metrics
	Logger   log.Logger
}

// Router wires the HTTP endpoints for the edge cache proxy.
type Router struct {
	controller *controller.Controller
	budgetMS   int
	metrics    *policy.Metrics
	logger     log.Logger
}

// NewRouter constructs the HTTP router. Unknown paths and methods answer
// with the liveness text.
func NewRouter(ctrl *controller.Controller, cfg Config) (*chi.Mux, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if cfg.BudgetMS < 0 {
		return nil, policy.ErrInvalidBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	r := &Router{
		controller: ctrl,
		budgetMS:   cfg.BudgetMS,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}

	mux := chi.NewRouter()
	mux.Get("/healthz", r.handleLiveness)
	mux.Get("/readyz", health.Readyz(ctrl))
	mux.Post("/score-route", r.handleScoreRoute)
	mux.NotFound(r.handleLiveness)
	mux.MethodNotAllowed(r.handleLiveness)

	return mux, nil
}

func (r *Router) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(livenessText))
}

func (r *Router) handleScoreRoute(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	traceID := req.Header.Get(contract.TraceIDHeader)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	w.Header().Set(contract.TraceIDHeader, traceID)

	budget, err := policy.NewBudgetArbiter(contract.WithTraceID(req.Context(), traceID), r.budgetMS, r.metrics)
	if err != nil {
		r.fail(w, start, traceID, err)
		return
	}
	defer budget.Cancel()

	scoreReq, err := decodeScoreRequest(req.Body)
	if err != nil {
		r.fail(w, start, traceID, err)
		return
	}

	result, err := r.controller.Score(budget.Context(), scoreReq)
	if err != nil {
		if budget.Hit() {
			err = fmt.Errorf("%w: %v", policy.ErrBudgetExceeded, err)
		}
		r.fail(w, start, traceID, err)
		return
	}

	w.Header().Set(contract.CacheHeader, result.Cache)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Body)

	obs.ObserveProxyRequest(strconv.Itoa(http.StatusOK), time.Since(start), traceID)
	level.Debug(r.logger).Log("msg", "scored", "fingerprint", result.Fingerprint, "cache", result.Cache, "trace_id", traceID)
}

// fail writes the 500 error envelope used for every failure kind.
func (r *Router) fail(w http.ResponseWriter, start time.Time, traceID string, err error) {
	if errors.Is(err, controller.ErrInvalidRequest) {
		level.Info(r.logger).Log("msg", "rejected request", "trace_id", traceID, "err", err)
	} else {
		level.Error(r.logger).Log("msg", "score-route failed", "trace_id", traceID, "err", err)
	}
	writeJSON(w, http.StatusInternalServerError, contract.ErrorResponse{Error: err.Error()})
	obs.ObserveProxyRequest(strconv.Itoa(http.StatusInternalServerError), time.Since(start), traceID)
}

func decodeScoreRequest(body io.Reader) (contract.ScoreRouteRequest, error) {
	var req contract.ScoreRouteRequest
	decoder := json.NewDecoder(io.LimitReader(body, maxRequestBytes))
	if err := decoder.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: decode body: %v", controller.ErrInvalidRequest, err)
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}
