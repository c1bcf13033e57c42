package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/attempt-service/internal/config"
	"github.com/stemsi/attempt-service/internal/handler"
	"github.com/stemsi/attempt-service/internal/metrics"
	"github.com/stemsi/attempt-service/internal/middleware"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt  *handler.AttemptHandler
	Activity *handler.ActivityHandler
	Monitor  *handler.MonitorHandler
	WS       *handler.WSHandler
	Health   *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// submitLimiter may be nil to disable write throttling.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	submitLimiter *middleware.RateLimiter,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.MetricsMiddleware())

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", metrics.PrometheusHandler())

	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if submitLimiter == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{submitLimiter.Middleware(), h}
	}

	// ─── 1. Taker Group (JWT, student) ─────────────────────────────────
	attempts := router.Group("/api/v1/attempts")
	attempts.Use(
		middleware.RequireJWT(auth),
		middleware.RequireRole(model.RoleStudent),
	)
	{
		attempts.POST("/start", limited(handlers.Attempt.StartAttempt)...)
		attempts.GET("/:session_id", handlers.Attempt.GetAttempt)
		attempts.PUT("/:session_id/answers", limited(handlers.Attempt.SaveAnswers)...)
		attempts.POST("/:session_id/submit", limited(handlers.Attempt.SubmitAttempt)...)
	}

	// ─── 2. WebSocket Group (query token) ──────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireWSAuth(auth),
		middleware.RequireRole(model.RoleStudent),
	)
	{
		ws.GET("/attempts/:session_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Management Group (JWT, lecturer/admin) ─────────────────────
	admin := router.Group("/api/v1/admin")
	admin.Use(
		middleware.RequireJWT(auth),
		middleware.RequireRole(model.RoleAdmin, model.RoleLecturer),
	)
	{
		admin.POST("/activities", handlers.Activity.CreateActivity)
		admin.GET("/activities/:id", handlers.Activity.GetActivity)
		admin.PATCH("/activities/:id", handlers.Activity.UpdateActivity)
		admin.GET("/activities/:id/attempts", handlers.Activity.ListAttempts)
		admin.GET("/activities/:id/attempts/export", handlers.Activity.ExportAttempts)
		admin.GET("/activities/:id/monitor", handlers.Monitor.MonitorActivitySSE)
	}

	return router
}
