package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jensholdgaard/auction-settlement/internal/batch"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/health"
	"github.com/jensholdgaard/auction-settlement/internal/scheduler"
)

var testClk = clock.Mock{T: time.Date(2025, 6, 15, 1, 0, 5, 0, time.UTC)}

type fixedRuns struct {
	run scheduler.Run
	ok  bool
}

func (f fixedRuns) LastRun() (scheduler.Run, bool) { return f.run, f.ok }

func decode(t *testing.T, rec *httptest.ResponseRecorder) health.Status {
	t.Helper()
	var s health.Status
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLivenessHandler(t *testing.T) {
	h := health.NewHandler(testClk, nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
	s := decode(t, rec)
	if s.Status != "ok" {
		t.Errorf("got status %q, want %q", s.Status, "ok")
	}
	if s.Timestamp != "2025-06-15T01:00:05Z" {
		t.Errorf("got timestamp %q", s.Timestamp)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		checkers   []health.Checker
		wantCode   int
		wantStatus string
	}{
		{
			name:       "not ready",
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
		{
			name:       "ready no checkers",
			ready:      true,
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:  "ready all checks pass",
			ready: true,
			checkers: []health.Checker{
				{Name: "database", Check: func(ctx context.Context) error { return nil }},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:  "ready but check fails",
			ready: true,
			checkers: []health.Checker{
				{Name: "database", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHandler(testClk, nil, tt.checkers...)
			h.SetReady(tt.ready)

			rec := httptest.NewRecorder()
			h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantCode)
			}
			if s := decode(t, rec); s.Status != tt.wantStatus {
				t.Errorf("got status %q, want %q", s.Status, tt.wantStatus)
			}
		})
	}
}

func TestReadinessHandler_IncludesLastRun(t *testing.T) {
	runs := fixedRuns{ok: true, run: scheduler.Run{
		StartedAt:  testClk.T.Add(-5 * time.Second),
		FinishedAt: testClk.T,
		Closing:    batch.Report{Closed: 4, Skipped: 2},
		Payments:   3,
	}}
	h := health.NewHandler(testClk, runs)
	h.SetReady(true)

	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	s := decode(t, rec)
	if s.LastRun == nil {
		t.Fatal("last_run missing from readiness response")
	}
	if s.LastRun.Closed != 4 || s.LastRun.Payments != 3 || s.LastRun.StartedAt != "2025-06-15T01:00:00Z" {
		t.Errorf("last_run = %+v", s.LastRun)
	}
}

func TestLastRunHandler(t *testing.T) {
	tests := []struct {
		name       string
		runs       health.RunSource
		wantCode   int
		wantStatus string
	}{
		{name: "no source", wantCode: http.StatusNotFound, wantStatus: "no_runs"},
		{name: "no runs yet", runs: fixedRuns{}, wantCode: http.StatusNotFound, wantStatus: "no_runs"},
		{
			name:       "successful run",
			runs:       fixedRuns{ok: true, run: scheduler.Run{Payments: 1}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "failed run",
			runs:       fixedRuns{ok: true, run: scheduler.Run{Err: errors.New("generating payments: disk full")}},
			wantCode:   http.StatusOK,
			wantStatus: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHandler(testClk, tt.runs)

			rec := httptest.NewRecorder()
			h.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantCode)
			}
			s := decode(t, rec)
			if s.Status != tt.wantStatus {
				t.Errorf("got status %q, want %q", s.Status, tt.wantStatus)
			}
			if tt.wantStatus == "failed" && s.LastRun.Error == "" {
				t.Error("failed run reported without error")
			}
		})
	}
}
