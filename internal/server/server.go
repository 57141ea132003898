// Package server exposes stored runs and live metrics over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pingsantohq/pingmesh/internal/health"
	"github.com/pingsantohq/pingmesh/internal/metrics"
	"github.com/pingsantohq/pingmesh/internal/store"
)

// Config controls HTTP server settings.
type Config struct {
	Addr              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger  *zap.SugaredLogger
	Store   store.Store
	Metrics *metrics.Store
	Health  *health.Checker
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs an HTTP server with the run API.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9310"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(newLimiter(cfg.RequestsPerSecond, cfg.Burst).middleware)
	api.HandleFunc("/runs", listRunsHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/runs/latest", latestRunHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/runs/{run_id}", runHandler(deps, func(run store.RunSummary) any { return run })).Methods(http.MethodGet)
	api.HandleFunc("/runs/{run_id}/pairs", runHandler(deps, func(run store.RunSummary) any {
		return struct {
			RunID string            `json:"run_id"`
			Items []store.PairStats `json:"items"`
		}{RunID: run.RunID, Items: run.Pairs}
	})).Methods(http.MethodGet)
	api.HandleFunc("/runs/{run_id}/links", runHandler(deps, func(run store.RunSummary) any {
		return struct {
			RunID string            `json:"run_id"`
			Items []store.LinkStats `json:"items"`
		}{RunID: run.RunID, Items: run.Links}
	})).Methods(http.MethodGet)

	if deps.Metrics != nil {
		r.Handle("/metrics", metrics.NewHTTPHandler(deps.Metrics))
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.HandleFunc("/readyz", readyHandler(deps)).Methods(http.MethodGet)

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

func readyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := deps.Health.Ready(r.Context(), time.Now().UTC())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func listRunsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				limit = v
			}
		}
		runs, err := deps.Store.ListRuns(r.Context(), limit)
		if err != nil {
			deps.Logger.Errorw("list runs failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []store.RunSummary{}
		}
		writeJSON(w, deps, "", struct {
			Items []store.RunSummary `json:"items"`
		}{Items: runs})
	}
}

func latestRunHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, etag, err := deps.Store.LatestRun(r.Context())
		if err != nil {
			storeError(w, deps, "latest", err)
			return
		}
		if notModified(w, r, etag) {
			return
		}
		writeJSON(w, deps, etag, run)
	}
}

func runHandler(deps Dependencies, view func(store.RunSummary) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := mux.Vars(r)["run_id"]
		if runID == "" {
			http.Error(w, "run_id required", http.StatusBadRequest)
			return
		}
		run, etag, err := deps.Store.GetRun(r.Context(), runID)
		if err != nil {
			storeError(w, deps, runID, err)
			return
		}
		if notModified(w, r, etag) {
			return
		}
		writeJSON(w, deps, etag, view(run))
	}
}

func storeError(w http.ResponseWriter, deps Dependencies, runID string, err error) {
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	deps.Logger.Errorw("fetch run failed", "run_id", runID, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, deps Dependencies, etag string, body any) {
	w.Header().Set("Content-Type", "application/json")
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		deps.Logger.Warnw("encode response failed", "error", err)
	}
}
