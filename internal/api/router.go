package api

import (
	"github.com/gin-gonic/gin"

	"github.com/orbweave/coordinator/internal/common/logger"
)

// RouterConfig controls which cross-cutting middleware is installed.
type RouterConfig struct {
	AuthEnabled       bool
	RequestsPerSecond int
}

// NewRouter builds the gin engine for the coordinator's HTTP surface.
func NewRouter(h *Handler, cfg RouterConfig, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(RequestLogger(log), Recovery(log), CORS(), Auth(cfg.AuthEnabled))
	if cfg.RequestsPerSecond > 0 {
		r.Use(RateLimit(cfg.RequestsPerSecond))
	}
	r.Use(ErrorHandler(log))

	r.POST("/runs", h.CreateRun)
	r.GET("/runs/:id", h.GetRun)
	r.POST("/runs/:id/stop", h.StopRun)

	r.GET("/sessions/:id", h.GetSession)
	r.GET("/sessions/:id/result", h.GetSessionResult)
	r.GET("/sessions/:id/events", h.GetSessionEvents)
	r.GET("/sessions/:id/stream", h.StreamSession)

	r.GET("/agents", h.ListAgents)
	r.GET("/agents/:name", h.GetAgent)
	r.POST("/agents/:name", h.CreateAgent)
	r.PUT("/agents/:name", h.UpdateAgent)
	r.DELETE("/agents/:name", h.DeleteAgent)

	r.POST("/runner/register", h.RegisterRunner)
	r.POST("/runner/heartbeat", h.Heartbeat)
	r.GET("/runner/runs", h.GetRunnerRuns)
	r.POST("/runner/runs/:id/running", h.TransitionRunning)
	r.POST("/runner/runs/:id/completed", h.CompleteRunnerRun)
	r.POST("/runner/runs/:id/failed", h.FailRunnerRun)

	r.POST("/events", h.AppendEvent)

	return r
}
