// Package web serves the local JSON API over pipeline runs: status, events,
// checkpoint approval, and abort. It is the surface an operator (or a thin
// UI) uses while runs are in flight.
package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/contextcore/coyote/internal/db"
	"github.com/contextcore/coyote/internal/orchestrator"
	"github.com/contextcore/coyote/internal/pipeline"
)

// Server exposes the run API. The event log is optional; without it the
// events endpoint reports 404.
type Server struct {
	orch  *orchestrator.Orchestrator
	store pipeline.RunStore
	db    *db.DB
	addr  string
}

// NewServer creates a Server listening on addr.
func NewServer(orch *orchestrator.Orchestrator, store pipeline.RunStore, database *db.DB, addr string) *Server {
	return &Server{orch: orch, store: store, db: database, addr: addr}
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/", s.routeRun)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Start listens and serves until the process exits.
func (s *Server) Start() error {
	log.Printf("coyote API: http://%s", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// handleRuns serves GET /api/runs with an optional ?status= filter.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	runs, err := s.store.List(pipeline.RunStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summarize(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// routeRun dispatches /api/runs/{id} and its subresources.
func (s *Server) routeRun(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleRunDetail(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "events":
		s.handleRunEvents(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "advance":
		s.handleAdvance(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "approve":
		s.handleApprove(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "abort":
		s.handleAbort(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	run, err := s.store.Get(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail(run))
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.db == nil {
		http.Error(w, "event log not configured", http.StatusNotFound)
		return
	}
	events, err := s.db.ListRunEvents(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	run, err := s.orch.Advance(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail(run))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	run, err := s.orch.Approve(runID, orchestrator.Decision(body.Decision))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail(run))
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	run, err := s.orch.Abort(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail(run))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses: unknown runs are 404,
// state conflicts and lost races are 409, everything else is 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var (
		invalid *pipeline.InvalidStateError
		pending *pipeline.CheckpointPendingError
		racing  *pipeline.ConcurrentModificationError
	)
	switch {
	case pipeline.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &pending), errors.As(err, &racing):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
