package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/config"
	"github.com/stemsi/mockdrive-backend/internal/handler"
	"github.com/stemsi/mockdrive-backend/internal/logger"
	"github.com/stemsi/mockdrive-backend/internal/middleware"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/response"
	"github.com/stemsi/mockdrive-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Drive     *handler.DriveHandler
	Interview *handler.InterviewHandler
	Admin     *handler.AdminHandler
	Monitor   *handler.MonitorHandler
	WS        *handler.WSHandler
	System    *handler.SystemHandler

	// TurnLimiter throttles interview turns per candidate. Nil disables it.
	TurnLimiter *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", handler.BypassHeader}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(logger.Gin(log))
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		MinLength:    middleware.DefaultBrotliConfig.MinLength,
		SkipPrefixes: []string{"/ws/", "/health"},
	}))

	router.GET("/health", handlers.System.Health)

	// ─── 1. Candidate Group (JWT) ──────────────────────────────────────
	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(middleware.RequireCandidateJWT(authService), middleware.NoStore())
	{
		candidateAPI.POST("/drives/:drive_id/enroll", handlers.Drive.Enroll)
		candidateAPI.GET("/drives/:drive_id/progress", handlers.Drive.GetProgress)
		candidateAPI.POST("/enrollments/:enrollment_id/rounds/:round_id/begin", handlers.Drive.BeginRound)
		candidateAPI.POST("/enrollments/:enrollment_id/rounds/:round_id/submit", handlers.Drive.SubmitRound)

		turn := []gin.HandlerFunc{handlers.Interview.Turn}
		if handlers.TurnLimiter != nil {
			turn = append([]gin.HandlerFunc{handlers.TurnLimiter.Middleware()}, turn...)
		}
		candidateAPI.POST("/interview/turn", turn...)
	}

	// ─── 2. WebSocket Group (Candidate WS Auth) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireCandidateWSAuth(authService))
	{
		ws.GET("/candidate/enrollments/:enrollment_id/rounds/:round_id/proctor", handlers.WS.ProctorStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.POST("/enrollments/:enrollment_id/rounds/:round_id/bypass",
			middleware.RequirePermission(model.PermissionRoundsBypass),
			handlers.Admin.BypassRound,
		)
		adminAPI.GET("/enrollments/:enrollment_id/violations",
			middleware.RequirePermission(model.PermissionViolationsRead),
			handlers.Admin.GetViolations,
		)
		adminAPI.GET("/drives/:drive_id/monitor",
			middleware.RequireAnyPermission(model.PermissionDrivesMonitor, model.PermissionViolationsRead),
			handlers.Monitor.MonitorDriveSSE,
		)
	}

	return router
}
