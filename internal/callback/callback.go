// Package callback implements the parent-child resume pipeline (§4.9): when
// a child session with parent_session_id != nil and execution_mode
// "async_callback" reaches a terminal run, it synthesizes a new
// resume_session run on the parent with a templated prompt describing the
// child's outcome.
package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/store"
)

// ParentResumer creates the resume_session run on the parent session under
// its per-session lock, bound at wiring time to the session state machine.
// Declaring the narrow interface here (rather than importing
// internal/session) keeps session -> callback -> session from cycling.
type ParentResumer interface {
	ResumeSession(ctx context.Context, parentSessionID string, prompt string, scope map[string]string) (resumeRunID string, err error)
}

// Processor delivers exactly one resume run per callback record.
type Processor struct {
	store   store.Store
	resumer ParentResumer
	log     *logger.Logger
}

// New constructs a Processor.
func New(st store.Store, resumer ParentResumer, log *logger.Logger) *Processor {
	return &Processor{store: st, resumer: resumer, log: log}
}

// ChildCompletion is the information the session state machine has on hand
// when a child run reaches a terminal state.
type ChildCompletion struct {
	ChildSessionID string
	ChildRunID     string
	ParentSession  *model.Session
	ParentScope    map[string]string
	Status         model.RunStatus
	Result         *model.ResultPayload
	ErrorMessage   *string
}

// Deliver reads the child's result, creates the callback record if absent,
// and resumes the parent exactly once. Safe to call more than once for the
// same child run: the store's UNIQUE(child_run_id) constraint combined
// with MarkCallbackDelivered's conditional update makes delivery
// idempotent.
func (p *Processor) Deliver(ctx context.Context, c ChildCompletion) error {
	if c.ParentSession == nil {
		return nil
	}

	existing, err := p.store.GetCallbackByChildRun(ctx, c.ChildRunID)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("failed to look up callback record: %w", err)
	}
	if existing != nil && existing.Status == model.CallbackDelivered {
		return nil
	}

	cb := existing
	if cb == nil {
		cb = &model.Callback{
			ID:              model.NewCallbackID(),
			ParentSessionID: c.ParentSession.ID,
			ChildSessionID:  c.ChildSessionID,
			ChildRunID:      c.ChildRunID,
			Status:          model.CallbackPending,
		}
		if c.Result != nil {
			cb.ChildResult = c.Result.ResultData
		}
		if err := p.store.CreateCallback(ctx, cb); err != nil {
			return fmt.Errorf("failed to create callback record: %w", err)
		}
	}

	prompt := renderPrompt(c)

	resumeRunID, err := p.resumer.ResumeSession(ctx, c.ParentSession.ID, prompt, c.ParentScope)
	if err != nil {
		return fmt.Errorf("failed to resume parent session: %w", err)
	}

	if err := p.store.MarkCallbackDelivered(ctx, cb.ID, resumeRunID); err != nil {
		p.log.WithError(err).WithSessionID(c.ParentSession.ID).Warn("resume run created but callback mark-delivered failed; will not re-resume on retry due to UNIQUE(child_run_id)")
	}
	return nil
}

// renderPrompt builds the templated callback text (§4.9.3): child session
// ID, status, result_text, and a pretty-printed result_data block when
// present. Failure uses a distinct variant so the parent can see the child
// did not succeed.
func renderPrompt(c ChildCompletion) string {
	var b strings.Builder

	if c.Status == model.RunFailed || c.Status == model.RunStopped {
		fmt.Fprintf(&b, "Child session %s did not complete successfully (status: %s).\n", c.ChildSessionID, c.Status)
		if c.ErrorMessage != nil {
			fmt.Fprintf(&b, "Error: %s\n", *c.ErrorMessage)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "Child session %s completed (status: %s).\n", c.ChildSessionID, c.Status)
	if c.Result != nil {
		if c.Result.ResultText != nil {
			fmt.Fprintf(&b, "Result: %s\n", *c.Result.ResultText)
		}
		if c.Result.ResultData != nil {
			pretty, err := json.MarshalIndent(c.Result.ResultData, "", "  ")
			if err == nil {
				fmt.Fprintf(&b, "Result data:\n```json\n%s\n```\n", pretty)
			}
		}
	}
	return b.String()
}
