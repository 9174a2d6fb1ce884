package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orbweave/coordinator/internal/common/errors"
	"github.com/orbweave/coordinator/internal/session"
)

// CreateRun handles POST /runs.
func (h *Handler) CreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.BadRequest("invalid request body: " + err.Error()))
		return
	}

	smReq := session.CreateRunRequest{
		Type:          req.Type,
		AgentName:     req.AgentName,
		Parameters:    req.Parameters,
		SessionID:     req.SessionID,
		Scope:         req.Scope,
		ExecutionMode: req.ExecutionMode,
	}
	if req.Context != nil {
		smReq.ParentSessionID = req.Context.ParentSessionID
		smReq.DisplayName = req.Context.DisplayName
		smReq.ProjectDir = req.Context.ProjectDir
		smReq.Hostname = req.Context.Hostname
	}

	run, err := h.sessions.CreateRun(c.Request.Context(), smReq)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, runToResponse(run))
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(h.notFoundOrInternal(err, errors.RunNotFound(c.Param("id"))))
		return
	}
	c.JSON(http.StatusOK, runToResponse(run))
}

// StopRun handles POST /runs/{id}/stop.
func (h *Handler) StopRun(c *gin.Context) {
	var req StopRunRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	if err := h.sessions.RequestStop(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}
