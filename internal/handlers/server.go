package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lijuuu/ContestBroadcastService/internal/jwt"
	"github.com/lijuuu/ContestBroadcastService/internal/service"
	"go.uber.org/zap"
)

// HealthCheck reports whether a backing store is reachable.
type HealthCheck func(ctx context.Context) error

type RouterDeps struct {
	WebSocket http.Handler
	Ingest    *service.Ingest
	JWT       *jwt.JWTManager
	Checks    map[string]HealthCheck
	Log       *zap.Logger
}

// NewRouter builds the HTTP surface of the service
func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Log.Named("http")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	// WebSocket endpoint
	r.GET("/ws", gin.WrapH(deps.WebSocket))

	r.GET("/health", healthHandler(deps.Checks))

	ingest := NewIngestHandler(deps.Ingest, log)
	internal := r.Group("/internal", ServiceAuth(deps.JWT, log))
	{
		internal.POST("/events", ingest.PublishEvent)
		internal.POST("/contests/:contestId/leaderboard/cells", ingest.PublishCell)
		internal.PUT("/contests/:contestId/leaderboard", ingest.SeedLeaderboard)
		internal.POST("/contests/:contestId/leaderboard/freeze", ingest.Freeze)
		internal.POST("/contests/:contestId/leaderboard/unfreeze", ingest.Unfreeze)
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				healthy = false
				continue
			}
			results[name] = "ok"
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "data": results})
			return
		}
		WriteJSONResponse(c, results, http.StatusOK)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/ws" {
			return
		}
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}
