package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/common"
	"github.com/suPer8Hu/momento/internal/httpapi/handlers"
	"github.com/suPer8Hu/momento/internal/httpapi/middleware"
	"github.com/suPer8Hu/momento/internal/metrics"
)

// NewRouter wires the public API. rec may be nil, in which case /metrics is
// not served.
func NewRouter(h *handlers.Handler, rec *metrics.Recorder, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger.Named("access")))
	r.Use(middleware.Recovery(logger))
	if rec != nil {
		r.Use(rec.GinMiddleware())
		r.GET("/metrics", gin.WrapH(rec.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/serverstatus", h.ServerStatus)

	// auth
	r.POST("/session", h.SignIn)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Tokens, h.Sessions))
	authGroup.DELETE("/session", h.SignOut)
	authGroup.POST("/session/reload", h.Reload)
	authGroup.GET("/me", h.Me)

	// chat
	authGroup.POST("/chat/prompts", h.SubmitPrompt)
	authGroup.GET("/chat/messages", h.ListMessages)
	authGroup.GET("/chat/stream", h.Stream)
	return r
}
