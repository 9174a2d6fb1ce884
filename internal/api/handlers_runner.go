package api

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orbweave/coordinator/internal/common/errors"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/registry"
)

// runnerPollInterval is how often GetRunnerRuns re-checks the dispatcher
// while long-polling for a claimable run.
const runnerPollInterval = 500 * time.Millisecond

// RegisterRunner handles POST /runner/register.
func (h *Handler) RegisterRunner(c *gin.Context) {
	var req RunnerRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.BadRequest("invalid request body: " + err.Error()))
		return
	}

	rn := &model.Runner{
		ID:                  uuid.New().String(),
		Hostname:            req.Hostname,
		ProjectDir:          req.ProjectDir,
		Tags:                req.Tags,
		ExecutorProfile:     req.ExecutorProfile,
		RequireMatchingTags: req.RequireMatchingTags,
		DeclaredAgents:      req.DeclaredAgents,
		Metadata:            req.Metadata,
	}

	if err := h.registry.Register(c.Request.Context(), rn); err != nil {
		var collision *registry.CollisionError
		if stderrors.As(err, &collision) {
			c.Error(errors.AgentNameCollision(collision.AgentName, collision.OwnerRunnerID))
			return
		}
		c.Error(errors.InternalError("failed to register runner", err))
		return
	}
	c.JSON(http.StatusCreated, RunnerRegisterResponse{RunnerID: rn.ID})
}

// Heartbeat handles POST /runner/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.BadRequest("invalid request body: " + err.Error()))
		return
	}
	if err := h.registry.Heartbeat(c.Request.Context(), req.RunnerID); err != nil {
		c.Error(h.notFoundOrInternal(err, errors.NotFound("runner", req.RunnerID)))
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRunnerRuns handles GET /runner/runs: a long-poll for the next run
// runnerID is eligible to claim.
func (h *Handler) GetRunnerRuns(c *gin.Context) {
	runnerID := c.Query("runner_id")
	if runnerID == "" {
		c.Error(errors.BadRequest("runner_id query parameter is required"))
		return
	}

	ctx := c.Request.Context()
	ticker := time.NewTicker(runnerPollInterval)
	defer ticker.Stop()

	for {
		run, err := h.dispatcher.ClaimNext(ctx, runnerID)
		if err != nil {
			c.Error(h.notFoundOrInternal(err, errors.NotFound("runner", runnerID)))
			return
		}
		if run != nil {
			bp, err := h.store.GetBlueprint(ctx, run.AgentName)
			if err != nil {
				c.Error(errors.InternalError("failed to load blueprint for claimed run", err))
				return
			}
			c.JSON(http.StatusOK, claimedRun(run, bp))
			return
		}

		select {
		case <-ctx.Done():
			c.Status(http.StatusNoContent)
			return
		case <-ticker.C:
		}
	}
}

// claimedRunResponse bundles a claimed run (whose resolved_blueprint holds
// the resolved snapshot) with its agent's stored definition, so a runner
// needs no further round trip to execute it.
type claimedRunResponse struct {
	Run       RunResponse    `json:"run"`
	Blueprint *AgentResponse `json:"blueprint"`
}

func claimedRun(run *model.Run, bp *model.Blueprint) claimedRunResponse {
	resp := claimedRunResponse{Run: runToResponse(run)}
	if bp != nil {
		ar := blueprintToAgentResponse(bp)
		resp.Blueprint = &ar
	}
	return resp
}

// TransitionRunning handles POST /runner/runs/{id}/running.
func (h *Handler) TransitionRunning(c *gin.Context) {
	if err := h.sessions.TransitionRunning(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CompleteRunnerRun handles POST /runner/runs/{id}/completed. It enforces
// the result exclusivity invariant (§3) and, when the completing run's
// agent declares an output_schema, validates result_data against it before
// the result is ever persisted.
func (h *Handler) CompleteRunnerRun(c *gin.Context) {
	var req CompleteRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.BadRequest("invalid request body: " + err.Error()))
		return
	}
	if (req.ResultText == nil) == (req.ResultData == nil) {
		c.Error(errors.ResultExclusivityViolated())
		return
	}

	ctx := c.Request.Context()
	runID := c.Param("id")

	if req.ResultData != nil {
		run, err := h.store.GetRun(ctx, runID)
		if err != nil {
			c.Error(h.notFoundOrInternal(err, errors.RunNotFound(runID)))
			return
		}
		bp, err := h.store.GetBlueprint(ctx, run.AgentName)
		if err != nil {
			c.Error(h.notFoundOrInternal(err, errors.AgentNotFound(run.AgentName)))
			return
		}
		if bp.OutputSchema != nil {
			if err := h.validator.ValidateResult(bp.Name+":output", bp.Name, req.ResultData, bp.OutputSchema); err != nil {
				c.Error(err)
				return
			}
		}
	}

	result := &model.ResultPayload{ResultText: req.ResultText, ResultData: req.ResultData}
	if err := h.sessions.CompleteRun(ctx, runID, result); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// FailRunnerRun handles POST /runner/runs/{id}/failed.
func (h *Handler) FailRunnerRun(c *gin.Context) {
	var req FailRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.BadRequest("invalid request body: " + err.Error()))
		return
	}
	if err := h.sessions.FailRun(c.Request.Context(), c.Param("id"), req.Error); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
