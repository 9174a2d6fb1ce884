package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orbweave/coordinator/internal/common/errors"
	"github.com/orbweave/coordinator/internal/hooks"
	"github.com/orbweave/coordinator/internal/model"
)

// ListAgents handles GET /agents.
func (h *Handler) ListAgents(c *gin.Context) {
	blueprints, err := h.store.ListBlueprints(c.Request.Context())
	if err != nil {
		c.Error(errors.InternalError("failed to list agents", err))
		return
	}
	resp := make([]AgentResponse, 0, len(blueprints))
	for _, bp := range blueprints {
		resp = append(resp, blueprintToAgentResponse(bp))
	}
	c.JSON(http.StatusOK, resp)
}

// GetAgent handles GET /agents/{name}.
func (h *Handler) GetAgent(c *gin.Context) {
	bp, err := h.store.GetBlueprint(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.Error(h.notFoundOrInternal(err, errors.AgentNotFound(c.Param("name"))))
		return
	}
	c.JSON(http.StatusOK, blueprintToAgentResponse(bp))
}

// CreateAgent handles POST /agents/{name}.
func (h *Handler) CreateAgent(c *gin.Context) {
	name := c.Param("name")
	var req BlueprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.BadRequest("invalid request body: " + err.Error()))
		return
	}

	bp := blueprintFromRequest(name, &req)
	if err := hooks.ValidateNoRecursion(bp, h.blueprintLookup); err != nil {
		c.Error(err)
		return
	}
	if err := h.store.CreateBlueprint(c.Request.Context(), bp); err != nil {
		c.Error(errors.InternalError("failed to create agent", err))
		return
	}
	c.JSON(http.StatusCreated, blueprintToAgentResponse(bp))
}

// UpdateAgent handles PUT /agents/{name}.
func (h *Handler) UpdateAgent(c *gin.Context) {
	name := c.Param("name")
	var req BlueprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.BadRequest("invalid request body: " + err.Error()))
		return
	}

	bp := blueprintFromRequest(name, &req)
	if err := hooks.ValidateNoRecursion(bp, h.blueprintLookup); err != nil {
		c.Error(err)
		return
	}
	if err := h.store.UpdateBlueprint(c.Request.Context(), bp); err != nil {
		c.Error(h.notFoundOrInternal(err, errors.AgentNotFound(name)))
		return
	}
	c.JSON(http.StatusOK, blueprintToAgentResponse(bp))
}

// DeleteAgent handles DELETE /agents/{name}.
func (h *Handler) DeleteAgent(c *gin.Context) {
	name := c.Param("name")
	if err := h.store.DeleteBlueprint(c.Request.Context(), name); err != nil {
		c.Error(h.notFoundOrInternal(err, errors.AgentNotFound(name)))
		return
	}
	c.Status(http.StatusNoContent)
}

func blueprintFromRequest(name string, req *BlueprintRequest) *model.Blueprint {
	return &model.Blueprint{
		Name:             name,
		Type:             req.Type,
		Description:      req.Description,
		ParametersSchema: req.ParametersSchema,
		OutputSchema:     req.OutputSchema,
		SystemPrompt:     req.SystemPrompt,
		MCPServers:       req.MCPServers,
		Hooks:            req.Hooks,
		Demands:          req.Demands,
		ExecutorProfile:  req.ExecutorProfile,
	}
}
