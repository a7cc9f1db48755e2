package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the Gin engine. Everything except /healthz requires a
// bearer token.
func NewRouter(h *HTTPHandler, auth *Authenticator, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))

	r.GET("/healthz", h.HealthCheck)

	api := r.Group("/", auth.Middleware())
	api.POST("/allocate", h.Allocate)
	api.PUT("/allocate/bulk", h.BulkAllocate)
	api.POST("/awb", h.AssignAwb)
	api.PUT("/awb/bulk", h.BulkAssignAwb)
	api.GET("/orders/:id", h.GetOrder)
	api.GET("/orders/:id/allocations", h.ListAllocations)
	api.GET("/scope", h.Scope)

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
