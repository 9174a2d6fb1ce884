package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orbweave/coordinator/internal/common/errors"
)

// AppendEvent handles POST /events: the runner-gateway ingress a runner
// calls to report progress on a run it has claimed.
func (h *Handler) AppendEvent(c *gin.Context) {
	var req AppendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.BadRequest("invalid request body: " + err.Error()))
		return
	}

	ev, err := h.events.Append(c.Request.Context(), req.SessionID, req.EventType, req.RunID, req.Payload)
	if err != nil {
		c.Error(errors.InternalError("failed to append event", err))
		return
	}
	c.JSON(http.StatusCreated, eventToResponse(ev))
}
