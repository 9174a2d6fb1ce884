// Package session implements the run state machine and per-session serial
// lanes (§4.7, §5): run creation, numbering, legal state transitions,
// session status projection, and the schema/placeholder gates a run must
// pass before it is ever queued for dispatch.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orbweave/coordinator/internal/blueprint"
	"github.com/orbweave/coordinator/internal/callback"
	apperrors "github.com/orbweave/coordinator/internal/common/errors"
	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/eventlog"
	"github.com/orbweave/coordinator/internal/hooks"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/store"
)

// Enqueuer hands a newly pending run to the dispatcher's queue.
type Enqueuer interface {
	Enqueue(run *model.Run, demands *model.Demands) error
}

// Resolver produces a resolved blueprint snapshot for one run.
type Resolver interface {
	Resolve(bp *model.Blueprint, params map[string]interface{}, scope map[string]string, rt blueprint.RuntimeContext) (map[string]interface{}, error)
}

// SchemaValidator validates run parameters against a blueprint's effective
// schema.
type SchemaValidator interface {
	Validate(cacheKey string, agentName string, params map[string]interface{}, schemaDoc map[string]interface{}) error
}

// HookInvoker runs on_run_start / on_run_finish for a blueprint.
type HookInvoker interface {
	RunOnStart(ctx context.Context, bp *model.Blueprint, run *model.Run) (*hooks.StartOutcome, error)
	RunOnFinish(ctx context.Context, bp *model.Blueprint, run *model.Run, result *model.ResultPayload, status model.RunStatus, errMsg *string)
}

// CallbackDeliverer notifies the callback processor that a child run
// reached a terminal state.
type CallbackDeliverer interface {
	Deliver(ctx context.Context, c callback.ChildCompletion) error
}

// Machine is the session/run state machine. All mutating operations on a
// session execute under that session's lock (§5's "serial lanes").
type Machine struct {
	store     store.Store
	events    *eventlog.Log
	queue     Enqueuer
	resolver  Resolver
	validator SchemaValidator
	hooks     HookInvoker
	callbacks CallbackDeliverer
	log       *logger.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Machine.
func New(st store.Store, events *eventlog.Log, queue Enqueuer, resolver Resolver, validator SchemaValidator, hooksEngine HookInvoker, callbacks CallbackDeliverer, log *logger.Logger) *Machine {
	return &Machine{
		store:     st,
		events:    events,
		queue:     queue,
		resolver:  resolver,
		validator: validator,
		hooks:     hooksEngine,
		callbacks: callbacks,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetQueue assigns the dispatcher after construction, for wiring cycles
// where the dispatcher's RunFailer is the Machine itself.
func (m *Machine) SetQueue(q Enqueuer) {
	m.queue = q
}

// SetHooks assigns the hook engine after construction, for wiring cycles
// where the hook engine's SyncInvoker is the Machine itself.
func (m *Machine) SetHooks(h HookInvoker) {
	m.hooks = h
}

// SetCallbacks assigns the callback processor after construction, for
// wiring cycles where the processor's ParentResumer is the Machine itself.
func (m *Machine) SetCallbacks(cb CallbackDeliverer) {
	m.callbacks = cb
}

func (m *Machine) lockFor(sessionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// CreateRunRequest is the input to CreateRun, mirroring POST /runs' body.
type CreateRunRequest struct {
	Type            model.RunType
	AgentName       string
	Parameters      map[string]interface{}
	SessionID       string // empty creates a new session
	Scope           map[string]string
	ExecutionMode   model.ExecutionMode
	ParentSessionID string
	DisplayName     string
	ProjectDir      *string
	Hostname        *string
}

// CreateRun validates, resolves, and persists a new pending run, running
// the on_run_start hook before the run is ever queued. The returned run's
// Status is either "pending" (queued for dispatch) or "failed"
// (hook_blocked) — both are valid terminal outcomes of this call.
func (m *Machine) CreateRun(ctx context.Context, req CreateRunRequest) (*model.Run, error) {
	bp, err := m.store.GetBlueprint(ctx, req.AgentName)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperrors.AgentNotFound(req.AgentName)
		}
		return nil, fmt.Errorf("failed to load blueprint: %w", err)
	}

	if err := m.validator.Validate(bp.Name, bp.Name, req.Parameters, bp.EffectiveParametersSchema()); err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess := &model.Session{
			ID:            model.NewSessionID(),
			DisplayName:   req.DisplayName,
			AgentName:     req.AgentName,
			Status:        model.SessionPending,
			ExecutionMode: req.ExecutionMode,
			ProjectDir:    req.ProjectDir,
			Hostname:      req.Hostname,
		}
		if req.ParentSessionID != "" {
			sess.ParentSessionID = &req.ParentSessionID
		}
		if err := m.store.CreateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = sess.ID
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return m.createRunLocked(ctx, sessionID, bp, req)
}

func (m *Machine) createRunLocked(ctx context.Context, sessionID string, bp *model.Blueprint, req CreateRunRequest) (*model.Run, error) {
	run := &model.Run{
		ID:         model.NewRunID(),
		SessionID:  sessionID,
		Type:       req.Type,
		AgentName:  req.AgentName,
		Parameters: req.Parameters,
		Scope:      req.Scope,
		Status:     model.RunPending,
	}
	if err := m.store.CreateRunWithNumber(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	m.emit(ctx, run, model.EventRunStart, nil)

	outcome, err := m.hooks.RunOnStart(ctx, bp, run)
	if err != nil {
		m.failRunLocked(ctx, run, err.Error())
		return run, nil
	}
	if outcome.Blocked {
		blockErr := apperrors.HookBlocked(outcome.BlockReason)
		m.failRunLocked(ctx, run, blockErr.Message)
		m.emit(ctx, run, model.EventHookBlocked, map[string]interface{}{"block_reason": outcome.BlockReason})
		return run, nil
	}

	if outcome.Parameters != nil {
		if err := m.validator.Validate(bp.Name, bp.Name, outcome.Parameters, bp.EffectiveParametersSchema()); err != nil {
			m.failRunLocked(ctx, run, "on_run_start hook returned parameters that no longer validate: "+err.Error())
			return run, nil
		}
		run.Parameters = outcome.Parameters
	}

	resolved, err := m.resolver.Resolve(bp, run.Parameters, run.Scope, blueprint.RuntimeContext{
		RunID:     run.ID,
		SessionID: run.SessionID,
		AgentName: run.AgentName,
		CreatedAt: run.CreatedAt,
	})
	if err != nil {
		m.failRunLocked(ctx, run, err.Error())
		return run, nil
	}
	run.ResolvedBlueprint = resolved

	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist resolved run: %w", err)
	}

	if err := m.queue.Enqueue(run, bp.Demands); err != nil {
		return nil, fmt.Errorf("failed to enqueue run: %w", err)
	}

	if err := m.store.UpdateSessionStatus(ctx, sessionID, model.SessionRunning); err != nil {
		m.log.WithError(err).WithSessionID(sessionID).Error("failed to project session status")
	}
	return run, nil
}

// TransitionRunning moves a claimed run to running, acknowledging the
// runner's GET /runner/runs dispatch.
func (m *Machine) TransitionRunning(ctx context.Context, runID string) error {
	run, err := m.getRun(ctx, runID)
	if err != nil {
		return err
	}
	lock := m.lockFor(run.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if run.Status != model.RunClaimed {
		return apperrors.BadRequest(fmt.Sprintf("run %s is %s, cannot transition to running", runID, run.Status))
	}
	now := time.Now().UTC()
	run.Status = model.RunRunning
	run.StartedAt = &now
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// CompleteRun transitions a run to completed, emits its terminal events,
// fires on_run_finish, and — if applicable — hands the completion to the
// callback processor.
func (m *Machine) CompleteRun(ctx context.Context, runID string, result *model.ResultPayload) error {
	return m.terminalTransition(ctx, runID, model.RunCompleted, model.EventRunCompleted, result, nil)
}

// FailRun transitions a run to failed with reason, satisfying
// dispatch.RunFailer for the dispatch timeout sweeper and
// registry.Registry.OnRunnerRemoved for disconnected runners.
func (m *Machine) FailRun(ctx context.Context, runID string, reason string) error {
	return m.terminalTransition(ctx, runID, model.RunFailed, model.EventRunFailed, nil, &reason)
}

// StopRun acknowledges a runner reporting a requested stop as completed.
func (m *Machine) StopRun(ctx context.Context, runID string) error {
	return m.terminalTransition(ctx, runID, model.RunStopped, model.EventRunStopped, nil, nil)
}

// RequestStop transitions a running or claimed run to stopping,
// signalling the runner to cancel (§5 cancellation).
func (m *Machine) RequestStop(ctx context.Context, runID string) error {
	run, err := m.getRun(ctx, runID)
	if err != nil {
		return err
	}
	lock := m.lockFor(run.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if run.Status != model.RunClaimed && run.Status != model.RunRunning {
		return apperrors.BadRequest(fmt.Sprintf("run %s is %s, cannot request stop", runID, run.Status))
	}
	run.Status = model.RunStopping
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

func (m *Machine) terminalTransition(ctx context.Context, runID string, status model.RunStatus, eventType model.EventType, result *model.ResultPayload, errMsg *string) error {
	run, err := m.getRun(ctx, runID)
	if err != nil {
		return err
	}

	lock := m.lockFor(run.SessionID)
	lock.Lock()
	if run.Status.Terminal() {
		lock.Unlock()
		return nil // already terminal; callers may retry delivery idempotently
	}

	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	if errMsg != nil {
		run.Error = errMsg
	}
	if err := m.store.UpdateRun(ctx, run); err != nil {
		lock.Unlock()
		return fmt.Errorf("failed to update run: %w", err)
	}

	payload := map[string]interface{}{}
	if errMsg != nil {
		payload["error"] = *errMsg
	}
	if result != nil {
		payload["result_text"] = result.ResultText
		payload["result_data"] = result.ResultData
		m.emit(ctx, run, model.EventResult, payload)
	}
	m.emit(ctx, run, eventType, payload)

	projected := model.SessionFinished
	switch status {
	case model.RunFailed:
		projected = model.SessionFailed
	case model.RunStopped:
		projected = model.SessionStopped
	}
	if err := m.store.UpdateSessionStatus(ctx, run.SessionID, projected); err != nil {
		m.log.WithError(err).WithSessionID(run.SessionID).Error("failed to project session status")
	}
	lock.Unlock()

	bp, bpErr := m.store.GetBlueprint(ctx, run.AgentName)
	if bpErr == nil {
		m.hooks.RunOnFinish(ctx, bp, run, result, status, errMsg)
	}

	m.deliverCallbackIfNeeded(ctx, run, status, result, errMsg)
	return nil
}

// failRunLocked is terminalTransition's body for the pre-dispatch failure
// path, reusing the session lock CreateRun already holds.
func (m *Machine) failRunLocked(ctx context.Context, run *model.Run, reason string) {
	now := time.Now().UTC()
	run.Status = model.RunFailed
	run.CompletedAt = &now
	run.Error = &reason
	if err := m.store.UpdateRun(ctx, run); err != nil {
		m.log.WithError(err).WithRunID(run.ID).Error("failed to persist pre-dispatch run failure")
		return
	}
	m.emit(ctx, run, model.EventRunFailed, map[string]interface{}{"error": reason})
	if err := m.store.UpdateSessionStatus(ctx, run.SessionID, model.SessionFailed); err != nil {
		m.log.WithError(err).WithSessionID(run.SessionID).Error("failed to project session status")
	}
	m.deliverCallbackIfNeeded(ctx, run, model.RunFailed, nil, &reason)
}

func (m *Machine) deliverCallbackIfNeeded(ctx context.Context, run *model.Run, status model.RunStatus, result *model.ResultPayload, errMsg *string) {
	sess, err := m.store.GetSession(ctx, run.SessionID)
	if err != nil {
		m.log.WithError(err).WithSessionID(run.SessionID).Error("failed to load session for callback delivery")
		return
	}
	if sess.ParentSessionID == nil || sess.ExecutionMode != model.ExecutionModeAsyncCallback {
		return
	}
	parent, err := m.store.GetSession(ctx, *sess.ParentSessionID)
	if err != nil {
		m.log.WithError(err).WithSessionID(*sess.ParentSessionID).Error("failed to load parent session for callback delivery")
		return
	}
	var parentScope map[string]string
	if parentRun, err := m.store.LatestRunBySession(ctx, parent.ID); err == nil {
		parentScope = parentRun.Scope
	} else if err != store.ErrNotFound {
		m.log.WithError(err).WithSessionID(parent.ID).Error("failed to load parent's latest run for callback scope inheritance")
	}
	c := callback.ChildCompletion{
		ChildSessionID: run.SessionID,
		ChildRunID:     run.ID,
		ParentSession:  parent,
		ParentScope:    parentScope,
		Status:         status,
		Result:         result,
		ErrorMessage:   errMsg,
	}
	if err := m.callbacks.Deliver(ctx, c); err != nil {
		m.log.WithError(err).WithRunID(run.ID).Error("failed to deliver callback")
	}
}

// ResumeSession creates a resume_session run on an existing session under
// its lock, satisfying callback.ParentResumer.
func (m *Machine) ResumeSession(ctx context.Context, sessionID string, prompt string, scope map[string]string) (string, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return "", apperrors.SessionNotFound(sessionID)
		}
		return "", err
	}

	run, err := m.CreateRun(ctx, CreateRunRequest{
		Type:       model.RunTypeResumeSession,
		AgentName:  sess.AgentName,
		Parameters: map[string]interface{}{"prompt": prompt},
		SessionID:  sessionID,
		Scope:      scope,
	})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// RunSyncChild drives a nested agent run to completion synchronously,
// satisfying hooks.SyncInvoker. It creates a child session with no
// parent-callback wiring (execution_mode is irrelevant: the hook engine
// itself awaits the result rather than a callback), polling the run to a
// terminal state.
func (m *Machine) RunSyncChild(ctx context.Context, agentName string, parameters map[string]interface{}, scope map[string]string) (*model.ResultPayload, model.RunStatus, *string, error) {
	run, err := m.CreateRun(ctx, CreateRunRequest{
		Type:       model.RunTypeStartSession,
		AgentName:  agentName,
		Parameters: parameters,
		Scope:      scope,
	})
	if err != nil {
		return nil, "", nil, err
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, "", nil, ctx.Err()
		case <-ticker.C:
			current, err := m.store.GetRun(ctx, run.ID)
			if err != nil {
				return nil, "", nil, err
			}
			if !current.Status.Terminal() {
				continue
			}
			var result *model.ResultPayload
			if ev, err := m.store.LatestEventOfType(ctx, current.SessionID, current.ID, model.EventResult); err == nil {
				result = resultFromPayload(ev.Payload)
			}
			return result, current.Status, current.Error, nil
		}
	}
}

func resultFromPayload(payload map[string]interface{}) *model.ResultPayload {
	if payload == nil {
		return nil
	}
	rp := &model.ResultPayload{}
	if text, ok := payload["result_text"].(string); ok {
		rp.ResultText = &text
	}
	if data, ok := payload["result_data"].(map[string]interface{}); ok {
		rp.ResultData = data
	}
	return rp
}

func (m *Machine) getRun(ctx context.Context, runID string) (*model.Run, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err == store.ErrNotFound {
		return nil, apperrors.RunNotFound(runID)
	}
	return run, err
}

func (m *Machine) emit(ctx context.Context, run *model.Run, eventType model.EventType, payload map[string]interface{}) {
	if _, err := m.events.Append(ctx, run.SessionID, eventType, &run.ID, payload); err != nil {
		m.log.WithError(err).WithRunID(run.ID).Error("failed to emit lifecycle event")
	}
}

// Result returns the session's authoritative terminal result (§4.7): the
// most recent result event on its final completed run, or — as a
// read-only legacy fallback — the last message event.
func (m *Machine) Result(ctx context.Context, sessionID string) (*model.ResultPayload, error) {
	run, err := m.store.LatestRunBySession(ctx, sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperrors.SessionNotFound(sessionID)
		}
		return nil, err
	}
	if !run.Status.Terminal() {
		return nil, apperrors.NotFound("result", sessionID)
	}

	if ev, err := m.store.LatestEventOfType(ctx, sessionID, run.ID, model.EventResult); err == nil {
		return resultFromPayload(ev.Payload), nil
	}

	if ev, err := m.store.LatestEventOfType(ctx, sessionID, run.ID, model.EventMessage); err == nil {
		return resultFromPayload(ev.Payload), nil
	}

	return nil, apperrors.NotFound("result", sessionID)
}
