// Package hooks implements the on_run_start / on_run_finish hook points
// (§4.8): on_run_start may transform parameters or block a run before
// dispatch; on_run_finish is observation-only. Agent-type hooks invoke
// another agent as a nested synchronous coordinator operation through a
// caller-supplied invoker, keeping this package free of any dependency on
// the session state machine that owns run creation.
package hooks

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/orbweave/coordinator/internal/common/errors"
	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/eventlog"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/store"
)

// SyncInvoker runs agentName synchronously to completion as a nested
// coordinator operation and returns its terminal result, bound at wiring
// time to the session state machine.
type SyncInvoker func(ctx context.Context, agentName string, parameters map[string]interface{}, scope map[string]string) (result *model.ResultPayload, status model.RunStatus, errMsg *string, err error)

// StartOutcome is the effect of an on_run_start hook on the run about to
// be dispatched.
type StartOutcome struct {
	Blocked     bool
	BlockReason string
	Parameters  map[string]interface{}
}

// Engine evaluates hooks declared on a blueprint.
type Engine struct {
	store   store.Store
	events  *eventlog.Log
	log     *logger.Logger
	invoker SyncInvoker
}

// New constructs an Engine. invoker is used for type="agent" hooks.
func New(st store.Store, events *eventlog.Log, log *logger.Logger, invoker SyncInvoker) *Engine {
	return &Engine{store: st, events: events, log: log, invoker: invoker}
}

// ValidateNoRecursion rejects a blueprint whose hook target agent itself
// declares hooks, per §4.8/§9's "rejected at registration" decision.
func ValidateNoRecursion(bp *model.Blueprint, lookup func(name string) (*model.Blueprint, bool)) error {
	check := func(spec *model.HookSpec) error {
		if spec == nil || spec.Type != model.HookTypeAgent {
			return nil
		}
		target, ok := lookup(spec.AgentName)
		if !ok {
			return nil // unknown target is a dispatch-time concern, not a recursion concern
		}
		if target.Hooks != nil && (target.Hooks.OnRunStart != nil || target.Hooks.OnRunFinish != nil) {
			return fmt.Errorf("hook target %q declares its own hooks; hooks cannot recurse", spec.AgentName)
		}
		return nil
	}
	if bp.Hooks == nil {
		return nil
	}
	if err := check(bp.Hooks.OnRunStart); err != nil {
		return err
	}
	return check(bp.Hooks.OnRunFinish)
}

// RunOnStart evaluates the on_run_start hook, if any. With no hook to run
// it returns a non-blocking outcome carrying the run's unchanged
// parameters.
func (e *Engine) RunOnStart(ctx context.Context, bp *model.Blueprint, run *model.Run) (*StartOutcome, error) {
	if bp.Hooks == nil || bp.Hooks.OnRunStart == nil {
		return &StartOutcome{Parameters: run.Parameters}, nil
	}
	spec := bp.Hooks.OnRunStart

	rec := &model.HookRecord{
		ID:        model.NewHookID(),
		RunID:     run.ID,
		HookType:  "on_run_start",
		Target:    spec.AgentName,
		StartedAt: time.Now().UTC(),
		Outcome:   model.HookOutcomeFailed,
	}
	if err := e.store.CreateHookRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record hook start: %w", err)
	}
	e.emit(ctx, run, model.EventHookStart, map[string]interface{}{"hook_type": rec.HookType, "target": rec.Target})

	if spec.Type != model.HookTypeAgent {
		return nil, e.failHook(ctx, rec, run, fmt.Errorf("http hooks are not yet supported"))
	}

	result, status, errMsg, err := e.invoker(ctx, spec.AgentName, map[string]interface{}{
		"parameters": run.Parameters,
		"agent_name": run.AgentName,
		"session_id": run.SessionID,
		"run_id":     run.ID,
	}, run.Scope)
	if err != nil {
		return nil, e.failHook(ctx, rec, run, err)
	}
	if status != model.RunCompleted {
		msg := "hook run did not complete successfully"
		if errMsg != nil {
			msg = *errMsg
		}
		return nil, e.failHook(ctx, rec, run, fmt.Errorf("%s", msg))
	}

	action, outcome, parseErr := parseHookStartResult(result)
	if parseErr != nil {
		return nil, e.failHook(ctx, rec, run, parseErr)
	}

	now := time.Now().UTC()
	rec.FinishedAt = &now
	switch action {
	case "block":
		rec.Outcome = model.HookOutcomeBlock
		rec.BlockReason = &outcome.BlockReason
		if err := e.store.UpdateHookRecord(ctx, rec); err != nil {
			e.log.WithError(err).WithRunID(run.ID).Error("failed to update hook record")
		}
		e.emit(ctx, run, model.EventHookBlocked, map[string]interface{}{"hook_type": rec.HookType, "target": rec.Target, "block_reason": outcome.BlockReason})
		return &StartOutcome{Blocked: true, BlockReason: outcome.BlockReason}, nil
	case "continue":
		rec.Outcome = model.HookOutcomeContinue
		if err := e.store.UpdateHookRecord(ctx, rec); err != nil {
			e.log.WithError(err).WithRunID(run.ID).Error("failed to update hook record")
		}
		e.emit(ctx, run, model.EventHookComplete, map[string]interface{}{"hook_type": rec.HookType, "target": rec.Target})
		if outcome.Parameters == nil {
			outcome.Parameters = run.Parameters
		}
		return &StartOutcome{Parameters: outcome.Parameters}, nil
	default:
		return nil, e.failHook(ctx, rec, run, fmt.Errorf("unrecognized hook action %q", action))
	}
}

// RunOnFinish evaluates the on_run_finish hook, if any. Its output is
// ignored by contract; errors are logged per spec and never alter the
// run's already-terminal state, even when on_error="block".
func (e *Engine) RunOnFinish(ctx context.Context, bp *model.Blueprint, run *model.Run, result *model.ResultPayload, status model.RunStatus, errMsg *string) {
	if bp.Hooks == nil || bp.Hooks.OnRunFinish == nil {
		return
	}
	spec := bp.Hooks.OnRunFinish

	rec := &model.HookRecord{
		ID:        model.NewHookID(),
		RunID:     run.ID,
		HookType:  "on_run_finish",
		Target:    spec.AgentName,
		StartedAt: time.Now().UTC(),
		Outcome:   model.HookOutcomeFailed,
	}
	if err := e.store.CreateHookRecord(ctx, rec); err != nil {
		e.log.WithError(err).WithRunID(run.ID).Error("failed to record finish hook start")
		return
	}
	e.emit(ctx, run, model.EventHookStart, map[string]interface{}{"hook_type": rec.HookType, "target": rec.Target})

	if spec.Type != model.HookTypeAgent {
		e.log.WithRunID(run.ID).Warn("http hooks are not yet supported; skipping on_run_finish")
		return
	}

	params := map[string]interface{}{
		"parameters": run.Parameters,
		"status":     string(status),
	}
	if result != nil {
		params["result_text"] = result.ResultText
		params["result_data"] = result.ResultData
	}
	if errMsg != nil {
		params["error"] = *errMsg
	}

	_, invokeStatus, invokeErrMsg, err := e.invoker(ctx, spec.AgentName, params, run.Scope)
	now := time.Now().UTC()
	rec.FinishedAt = &now

	if err != nil || invokeStatus != model.RunCompleted {
		msg := "finish hook invocation failed"
		if err != nil {
			msg = err.Error()
		} else if invokeErrMsg != nil {
			msg = *invokeErrMsg
		}
		rec.Outcome = model.HookOutcomeFailed
		rec.Error = &msg
		_ = e.store.UpdateHookRecord(ctx, rec)
		e.emit(ctx, run, model.EventHookFailed, map[string]interface{}{"hook_type": rec.HookType, "target": rec.Target, "error": msg})
		e.log.WithRunID(run.ID).Warn("on_run_finish hook failed; run remains in its terminal state")
		if spec.OnError == model.HookOnErrorBlock {
			e.log.WithRunID(run.ID).Error("on_run_finish hook had on_error=block but the run was already terminal; failure logged only")
		}
		return
	}

	rec.Outcome = model.HookOutcomeContinue
	_ = e.store.UpdateHookRecord(ctx, rec)
	e.emit(ctx, run, model.EventHookComplete, map[string]interface{}{"hook_type": rec.HookType, "target": rec.Target})
}

func (e *Engine) failHook(ctx context.Context, rec *model.HookRecord, run *model.Run, cause error) error {
	now := time.Now().UTC()
	rec.FinishedAt = &now
	rec.Outcome = model.HookOutcomeFailed
	msg := cause.Error()
	rec.Error = &msg
	if err := e.store.UpdateHookRecord(ctx, rec); err != nil {
		e.log.WithError(err).WithRunID(run.ID).Error("failed to update hook record")
	}
	e.emit(ctx, run, model.EventHookFailed, map[string]interface{}{"hook_type": rec.HookType, "target": rec.Target, "error": msg})
	return apperrors.HookFailed(cause)
}

func (e *Engine) emit(ctx context.Context, run *model.Run, eventType model.EventType, payload map[string]interface{}) {
	if _, err := e.events.Append(ctx, run.SessionID, eventType, &run.ID, payload); err != nil {
		e.log.WithError(err).WithRunID(run.ID).Error("failed to emit hook event")
	}
}

type hookStartOutput struct {
	BlockReason string
	Parameters  map[string]interface{}
}

// parseHookStartResult reads the {action, parameters} | {action, block_reason}
// contract out of a hook agent's result_data.
func parseHookStartResult(result *model.ResultPayload) (string, *hookStartOutput, error) {
	if result == nil || result.ResultData == nil {
		return "", nil, fmt.Errorf("on_run_start hook returned no result_data")
	}
	action, _ := result.ResultData["action"].(string)
	if action == "" {
		return "", nil, fmt.Errorf("on_run_start hook result_data missing 'action'")
	}
	out := &hookStartOutput{}
	if action == "block" {
		out.BlockReason, _ = result.ResultData["block_reason"].(string)
		if out.BlockReason == "" {
			out.BlockReason = "blocked by on_run_start hook"
		}
	}
	if params, ok := result.ResultData["parameters"].(map[string]interface{}); ok {
		out.Parameters = params
	}
	return action, out, nil
}
