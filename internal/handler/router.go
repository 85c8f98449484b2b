package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

type RouterConfig struct {
	Chat    *ChatHandler
	Limiter *RateLimiter
	Health  HealthFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthcheck", HealthCheck(cfg.Health))

	ai := router.Group("/ai")
	{
		ai.POST("/chat", cfg.Limiter.Middleware(), cfg.Chat.Chat)
		ai.GET("/stream/:sessionId", cfg.Chat.Stream)
		ai.POST("/createSession", cfg.Chat.CreateSession)
		ai.GET("/queryAllSessions", cfg.Chat.ListSessions)
		ai.GET("/queryHistoryMessages/:sessionId", cfg.Chat.HistoryMessages)
		ai.POST("/interrupt/:sessionId", cfg.Chat.Interrupt)
	}
	return router
}

func HealthCheck(check HealthFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.String(http.StatusOK, "ok")
	}
}
