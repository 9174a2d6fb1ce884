package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/queue"
	"github.com/orbweave/coordinator/internal/registry"
	"github.com/orbweave/coordinator/internal/store"
)

type fakeFailer struct {
	failed map[string]string
}

func (f *fakeFailer) FailRun(ctx context.Context, runID string, reason string) error {
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[runID] = reason
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), "dispatch_test.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestClaimNext_MatchesDeclaredAgentAndDemands(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reg := registry.New(st, logger.Default(), time.Minute, time.Hour)
	q := queue.NewRunQueue()
	d := New(st, reg, q, &fakeFailer{}, logger.Default(), time.Minute)

	rn := &model.Runner{ID: "rnr_1", Hostname: "host-a", ExecutorProfile: "docker", DeclaredAgents: []string{"reviewer"}}
	if err := reg.Register(ctx, rn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	sess := &model.Session{ID: "ses_1", AgentName: "reviewer", Status: model.SessionPending}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	run := &model.Run{ID: "run_1", SessionID: "ses_1", Type: model.RunTypeStartSession, AgentName: "reviewer", Status: model.RunPending, Parameters: map[string]interface{}{"prompt": "go"}}
	if err := st.CreateRunWithNumber(ctx, run); err != nil {
		t.Fatalf("CreateRunWithNumber failed: %v", err)
	}
	if err := d.Enqueue(run, &model.Demands{ExecutorProfile: "docker"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	claimed, err := d.ClaimNext(ctx, "rnr_1")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != "run_1" {
		t.Fatalf("expected run_1 to be claimed, got %+v", claimed)
	}
	if claimed.Status != model.RunClaimed {
		t.Errorf("Status = %v, want claimed", claimed.Status)
	}
	if q.Contains("run_1") {
		t.Error("claimed run should be removed from the pending queue")
	}

	again, err := d.ClaimNext(ctx, "rnr_1")
	if err != nil {
		t.Fatalf("second ClaimNext failed: %v", err)
	}
	if again != nil {
		t.Errorf("expected no further claimable runs, got %+v", again)
	}
}

func TestSweepTimeouts_FailsStaleRuns(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	reg := registry.New(st, logger.Default(), time.Minute, time.Hour)
	q := queue.NewRunQueue()
	failer := &fakeFailer{}
	d := New(st, reg, q, failer, logger.Default(), time.Minute)

	if err := q.Enqueue(&queue.QueuedRun{RunID: "run_old", AgentName: "reviewer", CreatedAt: time.Now().Add(-2 * time.Minute)}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(&queue.QueuedRun{RunID: "run_new", AgentName: "reviewer", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.SweepTimeouts(ctx)

	if _, ok := failer.failed["run_old"]; !ok {
		t.Error("expected run_old to be failed for timing out")
	}
	if _, ok := failer.failed["run_new"]; ok {
		t.Error("run_new should not have timed out yet")
	}
	if q.Contains("run_old") {
		t.Error("timed-out run should be removed from the queue")
	}
	if !q.Contains("run_new") {
		t.Error("run_new should remain queued")
	}
}
