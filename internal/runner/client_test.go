package runner

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orbweave/coordinator/internal/api"
)

func TestClient_Register(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runner/register" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req api.RunnerRegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Hostname != "runner-a" {
			t.Fatalf("expected hostname runner-a, got %q", req.Hostname)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.RunnerRegisterResponse{RunnerID: "rnr_1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	id, err := c.Register(t.Context(), api.RunnerRegisterRequest{Hostname: "runner-a"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if id != "rnr_1" {
		t.Fatalf("expected runner id rnr_1, got %q", id)
	}
}

func TestClient_ClaimNext_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	claimed, err := c.ClaimNext(t.Context(), "rnr_1", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected no claimed run, got %+v", claimed)
	}
}

func TestClient_ClaimNext_ReturnsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("runner_id") != "rnr_1" {
			t.Fatalf("expected runner_id=rnr_1, got %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(ClaimedRun{
			Run: api.RunResponse{ID: "run_1", AgentName: "reviewer"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	claimed, err := c.ClaimNext(t.Context(), "rnr_1", time.Second)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.Run.ID != "run_1" {
		t.Fatalf("expected claimed run_1, got %+v", claimed)
	}
}

func TestClient_ReportFailed(t *testing.T) {
	var gotReason string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.FailRunRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotReason = req.Error
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.ReportFailed(t.Context(), "run_1", "boom"); err != nil {
		t.Fatalf("ReportFailed failed: %v", err)
	}
	if gotReason != "boom" {
		t.Fatalf("expected reason 'boom', got %q", gotReason)
	}
}
