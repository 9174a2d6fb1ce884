package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orbweave/coordinator/internal/common/errors"
)

// GetSession handles GET /sessions/{id}.
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(h.notFoundOrInternal(err, errors.SessionNotFound(c.Param("id"))))
		return
	}
	c.JSON(http.StatusOK, sessionToResponse(sess))
}

// GetSessionResult handles GET /sessions/{id}/result.
func (h *Handler) GetSessionResult(c *gin.Context) {
	result, err := h.sessions.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resultToResponse(result))
}

// GetSessionEvents handles GET /sessions/{id}/events?since=.
func (h *Handler) GetSessionEvents(c *gin.Context) {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		c.Error(errors.BadRequest("invalid since parameter: " + err.Error()))
		return
	}

	events, err := h.events.ListSince(c.Request.Context(), c.Param("id"), since)
	if err != nil {
		c.Error(errors.InternalError("failed to list events", err))
		return
	}

	resp := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, eventToResponse(ev))
	}
	c.JSON(http.StatusOK, resp)
}

func parseSince(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamSession handles GET /sessions/{id}/stream: upgrades to a
// websocket and hands the connection to the streaming server.
func (h *Handler) StreamSession(c *gin.Context) {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		c.Error(errors.BadRequest("invalid since parameter: " + err.Error()))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sessionID := c.Param("id")
	clientID := uuid.New().String()

	if err := h.stream.Serve(c.Request.Context(), sessionID, clientID, conn, since); err != nil {
		h.log.WithError(err).WithSessionID(sessionID).Warn("stream serve ended with error")
	}
}
