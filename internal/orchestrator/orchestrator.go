// Package orchestrator implements the live orchestrator (spec §4.11-§4.12,
// C12): an HTTP surface that registers runs, executes them asynchronously,
// and streams their event log over SSE. Grounded on the teacher's
// pkg/web/server.go + routes.go (net/http ServeMux with Go 1.22 method
// patterns, a CORS middleware, and a graceful-shutdown Start function),
// generalized from the teacher's CRUD-over-local-files API to a
// run-lifecycle API, with github.com/r3labs/sse/v2 standing in for the
// teacher's plain-JSON handlers wherever the response is a live stream.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/blackcoderx/falcon-runner/internal/events"
	"github.com/blackcoderx/falcon-runner/internal/rsuite"
)

// RunStatus is the closed set of orchestrator-visible run states.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one tracked execution.
type Run struct {
	ID          string          `json:"id"`
	Status      RunStatus       `json:"status"`
	Request     RunRequest      `json:"request"`
	Result      *rsuite.AggregatedResult `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RegisteredAt time.Time      `json:"registered_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RunRequest is the POST /run body: which project/suite set to execute.
type RunRequest struct {
	ProjectPath string            `json:"project_path"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// Executor actually runs a registered run and returns its aggregate result.
// Bound at construction time by cmd/runner-serve to the planner/scheduler/
// runner wiring, so this package never imports them directly.
type Executor func(ctx context.Context, run *Run) (*rsuite.AggregatedResult, error)

// Server holds orchestrator state and serves its HTTP API.
type Server struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	order    []string
	bus      *events.Bus
	sse      *sse.Server
	exec     Executor
	log      *zap.Logger
}

func New(exec Executor, log *zap.Logger) *Server {
	s := &Server{
		runs: make(map[string]*Run),
		bus:  events.NewBus(),
		sse:  sse.New(),
		exec: exec,
		log:  log,
	}
	// AutoReplay true satisfies spec §4.11's replay-from-beginning policy: a
	// dashboard that opens GET /events mid-run still receives every event
	// published so far on the "runs" stream before live events resume.
	s.sse.AutoReplay = true
	s.sse.CreateStream("runs")
	return s
}

// Mux builds the HTTP handler tree (spec §4.12 endpoints).
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /run", s.handleCreateRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/retry", s.handleRetryRun)
	mux.Handle("GET /events", s.sse)
	return corsMiddleware(mux)
}

// Start binds bindAddress:port (0 port = OS-assigned) and serves in the
// background, matching the teacher's Start(dir, port) (actualPort, shutdown,
// err) shape. An empty bindAddress defaults to loopback.
func (s *Server) Start(bindAddress string, port int) (actualPort int, shutdown func(), err error) {
	if bindAddress == "" {
		bindAddress = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddress, port))
	if err != nil {
		return 0, nil, fmt.Errorf("orchestrator: failed to bind port: %w", err)
	}
	actualPort = ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{
		Handler:      s.Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived
	}
	go func() { _ = srv.Serve(ln) }()

	shutdown = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		s.sse.Close()
	}
	return actualPort, shutdown, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth implements spec §6's GET /health contract:
// {status, activeRunId|null}, where activeRunId is the most recently
// registered run still in RunQueued or RunRunning.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	var active *string
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if run.Status == RunQueued || run.Status == RunRunning {
			id := run.ID
			active = &id
			break
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "activeRunId": active})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	run := &Run{ID: uuid.NewString(), Status: RunQueued, Request: req, RegisteredAt: time.Now()}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	s.mu.Unlock()

	s.publish(run.ID, events.RunRegistered, run)
	go s.execute(run)

	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]*Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id])
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleRetryRun implements POST /runs/{id}/retry: it re-executes the
// existing run in place rather than minting a new id, so a client polling
// GET /runs/{id} keeps watching the same run it already knew about. It
// responds 202 with the re-queued Run record (the reused id is its "id"
// field); it does not return a separate {runId} object.
func (s *Server) handleRetryRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	prior, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	run := &Run{ID: id, Status: RunQueued, Request: prior.Request, RegisteredAt: time.Now()}
	s.runs[id] = run
	s.mu.Unlock()

	s.publish(run.ID, events.RunRegistered, run)
	go s.execute(run)
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) execute(run *Run) {
	now := time.Now()
	s.mu.Lock()
	run.Status = RunRunning
	run.StartedAt = &now
	s.mu.Unlock()
	s.publish(run.ID, events.RunStarted, run)

	result, err := s.exec(context.Background(), run)

	completed := time.Now()
	s.mu.Lock()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	} else {
		run.Status = RunSucceeded
		run.Result = result
	}
	s.mu.Unlock()

	if err != nil {
		s.publish(run.ID, events.RunError, map[string]string{"error": err.Error()})
		if s.log != nil {
			s.log.Error("run failed", zap.String("run", run.ID), zap.Error(err))
		}
	}
	s.publish(run.ID, events.RunCompleted, run)
}

func (s *Server) publish(runID string, kind events.Kind, payload any) {
	ev := s.bus.Publish(runID, kind, payload)
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.sse.Publish("runs", &sse.Event{Event: []byte(kind), Data: data})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
