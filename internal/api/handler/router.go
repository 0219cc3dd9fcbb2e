package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SetupRouter registers every route of the realtime server.
func SetupRouter(h *Handler) *gin.Engine {
	if !h.Config.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if h.Config.Debug() {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/ws", h.ServeWebSocket)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": len(h.Hub.Connections())})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/conversations/:patientId/:doctorId/messages", h.GetHistory)

	admin := api.Group("/admin", h.AdminOnly())
	admin.POST("/token", h.IssueToken)
	admin.GET("/connections", h.ListConnections)
	admin.GET("/online/:id", h.UserOnline)
	admin.GET("/calls/stale", h.StaleCalls)
	admin.POST("/calls/:id/cancel", h.CancelCall)
	admin.POST("/calls/:id/hold", h.CallTransition("hold", h.Calls.Hold))
	admin.POST("/calls/:id/resume", h.CallTransition("resume", h.Calls.Resume))
	admin.POST("/calls/:id/fail", h.CallTransition("fail", h.Calls.Fail))
	admin.POST("/calls/:id/no-show", h.CallTransition("no-show", h.Calls.MarkNoShow))
	admin.POST("/notify", h.Notify)

	log.Info().Str("module", "api").Bool("debug", h.Config.Debug()).Msg("router setup")
	return r
}
