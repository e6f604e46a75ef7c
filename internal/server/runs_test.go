package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
	"github.com/mohammad-safakhou/incidentsync/internal/runtime"
	"github.com/mohammad-safakhou/incidentsync/internal/store"
)

type fakeRuns struct {
	got  store.RunFilter
	runs []pipeline.Run
}

func (f *fakeRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]pipeline.Run, error) {
	f.got = filter
	return f.runs, nil
}

func TestRunsRequiresToken(t *testing.T) {
	secret := []byte("s3cret")
	rec := do(t, Options{Flows: &fakeFlows{}, Runs: &fakeRuns{}, JWTSecret: secret}, "/api/runs")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRunsListsHistory(t *testing.T) {
	secret := []byte("s3cret")
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	runs := &fakeRuns{runs: []pipeline.Run{
		{ID: "r1", Flow: pipeline.FlowDelete, Status: pipeline.RunStatusSucceeded, Stage: pipeline.StagePrune, Deleted: 3, StartedAt: started, FinishedAt: started.Add(time.Second)},
		{ID: "r0", Flow: pipeline.FlowDelete, Status: pipeline.RunStatusRunning, StartedAt: started.Add(-time.Hour)},
	}}
	tok, err := runtime.SignJWT("ops", secret, time.Hour, runtime.ScopeRunsRead)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	e := NewEcho(Options{Flows: &fakeFlows{}, Runs: runs, JWTSecret: secret})
	req := httptest.NewRequest(http.MethodGet, "/api/runs?flow=delete&limit=5", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if runs.got.Flow != pipeline.FlowDelete || runs.got.Limit != 5 {
		t.Fatalf("unexpected filter %#v", runs.got)
	}
	var out []runResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].Deleted != 3 || out[0].FinishedAt == nil || out[1].FinishedAt != nil {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRunsRejectsBadQuery(t *testing.T) {
	secret := []byte("s3cret")
	tok, _ := runtime.SignJWT("ops", secret, time.Hour, runtime.ScopeRunsRead)
	e := NewEcho(Options{Flows: &fakeFlows{}, Runs: &fakeRuns{}, JWTSecret: secret})
	for _, q := range []string{"?limit=0", "?limit=abc", "?flow=purge"} {
		req := httptest.NewRequest(http.MethodGet, "/api/runs"+q, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestRunsRequiresScope(t *testing.T) {
	secret := []byte("s3cret")
	tok, _ := runtime.SignJWT("ops", secret, time.Hour)
	e := NewEcho(Options{Flows: &fakeFlows{}, Runs: &fakeRuns{}, JWTSecret: secret})
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
