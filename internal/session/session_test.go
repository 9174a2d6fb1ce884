package session

import (
	"context"
	"testing"
	"time"

	"github.com/orbweave/coordinator/internal/blueprint"
	"github.com/orbweave/coordinator/internal/callback"
	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/eventlog"
	"github.com/orbweave/coordinator/internal/events/bus"
	"github.com/orbweave/coordinator/internal/hooks"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/store"
)

type fakeQueue struct {
	enqueued []*model.Run
}

func (q *fakeQueue) Enqueue(run *model.Run, demands *model.Demands) error {
	q.enqueued = append(q.enqueued, run)
	return nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(bp *model.Blueprint, params map[string]interface{}, scope map[string]string, rt blueprint.RuntimeContext) (map[string]interface{}, error) {
	return map[string]interface{}{"system_prompt": bp.SystemPrompt, "run_id": rt.RunID}, nil
}

type fakeValidator struct {
	fail bool
}

func (v *fakeValidator) Validate(cacheKey, agentName string, params map[string]interface{}, schemaDoc map[string]interface{}) error {
	if v.fail {
		return apperrorsParamFailure(agentName)
	}
	return nil
}

type fakeHooks struct {
	outcome *hooks.StartOutcome
	err     error
}

func (h *fakeHooks) RunOnStart(ctx context.Context, bp *model.Blueprint, run *model.Run) (*hooks.StartOutcome, error) {
	if h.outcome == nil && h.err == nil {
		return &hooks.StartOutcome{Parameters: run.Parameters}, nil
	}
	return h.outcome, h.err
}

func (h *fakeHooks) RunOnFinish(ctx context.Context, bp *model.Blueprint, run *model.Run, result *model.ResultPayload, status model.RunStatus, errMsg *string) {
}

type fakeCallbacks struct {
	delivered []callback.ChildCompletion
}

func (c *fakeCallbacks) Deliver(ctx context.Context, cc callback.ChildCompletion) error {
	c.delivered = append(c.delivered, cc)
	return nil
}

func newTestMachine(t *testing.T, q *fakeQueue, h *fakeHooks, cb *fakeCallbacks) (*Machine, store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), "session_test.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := bus.NewMemoryEventBus(logger.Default())
	log := eventlog.New(st, b, logger.Default())

	if q == nil {
		q = &fakeQueue{}
	}
	if h == nil {
		h = &fakeHooks{}
	}
	if cb == nil {
		cb = &fakeCallbacks{}
	}

	m := New(st, log, q, fakeResolver{}, &fakeValidator{}, h, cb, logger.Default())
	return m, st
}

func mustCreateBlueprint(t *testing.T, st store.Store, name string) {
	t.Helper()
	bp := &model.Blueprint{
		Name:         name,
		Type:         model.AgentTypeAutonomous,
		SystemPrompt: "you are a reviewer",
	}
	if err := st.CreateBlueprint(context.Background(), bp); err != nil {
		t.Fatalf("CreateBlueprint failed: %v", err)
	}
}

func TestCreateRun_HappyPathEnqueuesAndProjectsRunning(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueue{}
	m, st := newTestMachine(t, q, nil, nil)
	mustCreateBlueprint(t, st, "reviewer")

	run, err := m.CreateRun(ctx, CreateRunRequest{
		Type:       model.RunTypeStartSession,
		AgentName:  "reviewer",
		Parameters: map[string]interface{}{"prompt": "review this"},
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != model.RunPending {
		t.Errorf("Status = %v, want pending", run.Status)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].ID != run.ID {
		t.Errorf("expected run to be enqueued, got %+v", q.enqueued)
	}
	if run.ResolvedBlueprint == nil {
		t.Error("expected a resolved blueprint snapshot")
	}

	sess, err := st.GetSession(ctx, run.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Status != model.SessionRunning {
		t.Errorf("session Status = %v, want running", sess.Status)
	}
}

func TestCreateRun_HookBlockFailsRunWithoutEnqueuing(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueue{}
	h := &fakeHooks{outcome: &hooks.StartOutcome{Blocked: true, BlockReason: "budget exceeded"}}
	m, st := newTestMachine(t, q, h, nil)
	mustCreateBlueprint(t, st, "reviewer")

	run, err := m.CreateRun(ctx, CreateRunRequest{
		Type:       model.RunTypeStartSession,
		AgentName:  "reviewer",
		Parameters: map[string]interface{}{"prompt": "review this"},
	})
	if err != nil {
		t.Fatalf("CreateRun returned an error instead of a failed run: %v", err)
	}
	if run.Status != model.RunFailed {
		t.Errorf("Status = %v, want failed", run.Status)
	}
	if len(q.enqueued) != 0 {
		t.Error("a blocked run must never be enqueued")
	}
}

func TestCreateRun_UnknownAgentReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine(t, nil, nil, nil)

	_, err := m.CreateRun(ctx, CreateRunRequest{
		Type:      model.RunTypeStartSession,
		AgentName: "does-not-exist",
	})
	if err == nil {
		t.Fatal("expected an error for an unregistered agent")
	}
}

func TestCompleteRun_DeliversCallbackForAsyncChild(t *testing.T) {
	ctx := context.Background()
	cb := &fakeCallbacks{}
	m, st := newTestMachine(t, nil, nil, cb)
	mustCreateBlueprint(t, st, "child-agent")

	parent := &model.Session{ID: "ses_parent", AgentName: "coordinator-agent", Status: model.SessionRunning}
	if err := st.CreateSession(ctx, parent); err != nil {
		t.Fatalf("CreateSession(parent) failed: %v", err)
	}

	run, err := m.CreateRun(ctx, CreateRunRequest{
		Type:            model.RunTypeStartSession,
		AgentName:       "child-agent",
		Parameters:      map[string]interface{}{"prompt": "go"},
		ParentSessionID: parent.ID,
		ExecutionMode:   model.ExecutionModeAsyncCallback,
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	result := &model.ResultPayload{ResultData: map[string]interface{}{"ok": true}}
	if err := m.CompleteRun(ctx, run.ID, result); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	if len(cb.delivered) != 1 {
		t.Fatalf("expected exactly one callback delivery, got %d", len(cb.delivered))
	}
	if cb.delivered[0].ParentSession.ID != parent.ID {
		t.Errorf("callback delivered to wrong parent: %+v", cb.delivered[0].ParentSession)
	}
}

func TestTerminalTransition_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, nil, nil, nil)
	mustCreateBlueprint(t, st, "reviewer")

	run, err := m.CreateRun(ctx, CreateRunRequest{
		Type:       model.RunTypeStartSession,
		AgentName:  "reviewer",
		Parameters: map[string]interface{}{"prompt": "go"},
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if err := m.CompleteRun(ctx, run.ID, &model.ResultPayload{}); err != nil {
		t.Fatalf("first CompleteRun failed: %v", err)
	}
	if err := m.FailRun(ctx, run.ID, "should be ignored"); err != nil {
		t.Fatalf("second terminal transition returned an error: %v", err)
	}

	final, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if final.Status != model.RunCompleted {
		t.Errorf("Status = %v, want the original completed to stick", final.Status)
	}
}

func TestRequestStop_RejectsPendingRun(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, nil, nil, nil)
	mustCreateBlueprint(t, st, "reviewer")

	run, err := m.CreateRun(ctx, CreateRunRequest{
		Type:       model.RunTypeStartSession,
		AgentName:  "reviewer",
		Parameters: map[string]interface{}{"prompt": "go"},
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if err := m.RequestStop(ctx, run.ID); err == nil {
		t.Error("expected RequestStop to reject a still-pending run")
	}
}

func TestResult_NotReadyUntilTerminal(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, nil, nil, nil)
	mustCreateBlueprint(t, st, "reviewer")

	run, err := m.CreateRun(ctx, CreateRunRequest{
		Type:       model.RunTypeStartSession,
		AgentName:  "reviewer",
		Parameters: map[string]interface{}{"prompt": "go"},
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if _, err := m.Result(ctx, run.SessionID); err == nil {
		t.Error("expected Result to fail before the run reaches a terminal state")
	}

	text := "done"
	if err := m.CompleteRun(ctx, run.ID, &model.ResultPayload{ResultText: &text}); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	result, err := m.Result(ctx, run.SessionID)
	if err != nil {
		t.Fatalf("Result failed after completion: %v", err)
	}
	if result.ResultText == nil || *result.ResultText != text {
		t.Errorf("ResultText = %v, want %q", result.ResultText, text)
	}
	_ = time.Second
}

func apperrorsParamFailure(agentName string) error {
	return &fakeValidationError{agentName: agentName}
}

type fakeValidationError struct{ agentName string }

func (e *fakeValidationError) Error() string {
	return "parameters do not conform to the agent's parameters_schema: " + e.agentName
}
