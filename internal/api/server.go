// Package api serves stored runs, their progress and their statistics over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/scenario"
	"github.com/roach88/simrun/internal/stats"
	"github.com/roach88/simrun/internal/store"
)

// Store is the read side the server needs. *store.Store implements it.
type Store interface {
	stats.Querier
	ListRuns(ctx context.Context) ([]store.Run, error)
	ReadProgress(ctx context.Context, runID string) ([]store.ProgressEntry, error)
	ListIterations(ctx context.Context, runID string) ([]store.IterationRow, error)
	ReadUnitStats(ctx context.Context, runID string) ([]store.UnitStat, error)
}

// Server routes API requests.
type Server struct {
	store   Store
	metrics http.Handler
	logger  *slog.Logger
}

// NewServer creates a server. metrics may be nil, in which case /metrics is
// not routed.
func NewServer(st Store, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: st, metrics: metrics, logger: logger}
}

// Router returns the bare route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/runs", s.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}", s.getRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/progress", s.getProgress).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/iterations", s.listIterations).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/units", s.listUnits).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/stats/{kind}/{field}", s.getStats).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the router wrapped in panic recovery and an access log in
// Apache combined format written to accessLog.
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	return handlers.CombinedLoggingHandler(accessLog, s.recover(s.Router()))
}

func (s *Server) recover(h http.Handler) http.Handler {
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(true),
	)(h)
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.logger.Error("handler panic", "panic", fmt.Sprint(v...))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.ReadRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type progressResponse struct {
	stats.Progress
	Fragments []store.ProgressEntry `json:"fragments"`
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := stats.NewService(s.store, nil).Progress(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	entries, err := s.store.ReadProgress(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Progress: p, Fragments: entries})
}

func (s *Server) listIterations(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.ReadRun(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	rows, err := s.store.ListIterations(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) listUnits(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.ReadRun(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	units, err := s.store.ReadUnitStats(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, err := keyspace.ParseFamily(vars["kind"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.store.ReadRun(r.Context(), vars["id"])
	if err != nil {
		s.fail(w, err)
		return
	}

	// The snapshot carries the zones; runs that crashed have none and fall
	// back to the Background zone.
	var sc *scenario.Scenario
	if run.Snapshot != "" {
		if sc, err = scenario.ParseYAML([]byte(run.Snapshot)); err != nil {
			s.logger.Warn("unreadable scenario snapshot", "run_id", run.ID, "error", err)
			sc = nil
		}
	}

	sum, err := stats.NewService(s.store, sc).Summary(r.Context(), run.ID, kind, vars["field"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// fail maps domain errors to status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrUnknownField):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, stats.ErrUnknownStopCondition):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
