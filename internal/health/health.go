// Package health serves the settler's liveness, readiness and last-run
// endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/scheduler"
)

// Status is the body of every health response.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	LastRun   *RunStatus        `json:"last_run,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// RunStatus summarizes the latest settlement run.
type RunStatus struct {
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
	Closed        int    `json:"closed"`
	Skipped       int    `json:"skipped"`
	CloseFailures int    `json:"close_failures"`
	Payments      int    `json:"payments"`
	Error         string `json:"error,omitempty"`
}

// Checker is a named readiness check.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// RunSource reports the most recent settlement run.
type RunSource interface {
	LastRun() (scheduler.Run, bool)
}

// Handler serves the health endpoints.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	checkers []Checker
	runs     RunSource
	clock    clock.Clock
}

// NewHandler creates a health handler. runs may be nil.
func NewHandler(clk clock.Clock, runs RunSource, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, runs: runs, clock: clk}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// Mux returns a ServeMux with /healthz, /readyz and /runz registered.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.LivenessHandler())
	mux.HandleFunc("GET /readyz", h.ReadinessHandler())
	mux.HandleFunc("GET /runz", h.LastRunHandler())
	return mux
}

// LivenessHandler returns HTTP 200 while the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{Status: "ok", Timestamp: h.now()})
	}
}

// ReadinessHandler returns HTTP 200 when the service is ready and every
// check passes.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready := h.ready
		h.mu.RUnlock()

		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, Status{Status: "not_ready", Timestamp: h.now()})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := make(map[string]string, len(h.checkers))
		code, status := http.StatusOK, "ready"
		for _, c := range h.checkers {
			if err := c.Check(ctx); err != nil {
				checks[c.Name] = err.Error()
				code, status = http.StatusServiceUnavailable, "not_ready"
				continue
			}
			checks[c.Name] = "ok"
		}

		writeJSON(w, code, Status{
			Status:    status,
			Checks:    checks,
			LastRun:   h.lastRun(),
			Timestamp: h.now(),
		})
	}
}

// LastRunHandler reports the latest settlement run, or 404 before the
// first one.
func (h *Handler) LastRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := h.lastRun()
		if run == nil {
			writeJSON(w, http.StatusNotFound, Status{Status: "no_runs", Timestamp: h.now()})
			return
		}
		status := "ok"
		if run.Error != "" {
			status = "failed"
		}
		writeJSON(w, http.StatusOK, Status{Status: status, LastRun: run, Timestamp: h.now()})
	}
}

func (h *Handler) lastRun() *RunStatus {
	if h.runs == nil {
		return nil
	}
	run, ok := h.runs.LastRun()
	if !ok {
		return nil
	}
	rs := &RunStatus{
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:    run.FinishedAt.UTC().Format(time.RFC3339),
		Closed:        run.Closing.Closed,
		Skipped:       run.Closing.Skipped,
		CloseFailures: len(run.Closing.Failures),
		Payments:      run.Payments,
	}
	if run.Err != nil {
		rs.Error = run.Err.Error()
	}
	return rs
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
