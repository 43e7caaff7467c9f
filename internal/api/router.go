package api

import (
	"crypto/subtle"
	"log/slog"

	"github.com/gin-gonic/gin"

	"salahguard/internal/api/handlers"
	"salahguard/internal/api/middleware"
	"salahguard/internal/core"
	"salahguard/internal/notify"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Service   core.LockService
	Sessions  handlers.GuardianSessions
	Launcher  handlers.GuardianLauncher
	Scheduler interface {
		handlers.Rescheduler
		handlers.ScheduleReader
	}
	Pin    handlers.PinVerifier
	Kiosk  handlers.KioskReporter
	Hub    *notify.Hub // optional; nil disables the events endpoint
	APIKey string
	Logger *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))
	router.Use(middleware.ContentType())

	// Health check (no auth)
	healthHandler := handlers.NewHealthHandler()
	router.GET("/health", healthHandler.GetHealth)

	// API v1 routes (with authentication)
	v1 := router.Group("/v1")
	v1.Use(authMiddleware(config.APIKey))
	{
		statusHandler := handlers.NewStatusHandler(
			config.Service,
			config.Sessions,
			config.Scheduler,
			config.Logger,
		)
		v1.GET("/status", statusHandler.GetStatus)

		lockHandler := handlers.NewLockHandler(
			config.Service,
			config.Launcher,
			config.Logger,
		)
		v1.POST("/lock/test", lockHandler.TestLock)
		v1.POST("/lock/force-clear", lockHandler.ForceClear)

		pinHandler := handlers.NewPinHandler(
			config.Service,
			config.Pin,
			config.Logger,
		)
		v1.POST("/pin/verify", pinHandler.VerifyPin)

		completionsHandler := handlers.NewCompletionsHandler(
			config.Service,
			config.Logger,
		)
		v1.GET("/completions", completionsHandler.ListToday)
		v1.POST("/completions", completionsHandler.MarkComplete)

		auditHandler := handlers.NewAuditHandler(
			config.Service,
			config.Logger,
		)
		v1.GET("/audit", auditHandler.ListAudit)

		scheduleHandler := handlers.NewScheduleHandler(
			config.Scheduler,
			config.Scheduler,
			config.Logger,
		)
		v1.GET("/schedule", scheduleHandler.GetSchedule)
		v1.POST("/schedule/refresh", scheduleHandler.RefreshSchedule)

		if config.Kiosk != nil {
			kioskHandler := handlers.NewKioskHandler(config.Kiosk)
			v1.POST("/kiosk/heartbeat", kioskHandler.Heartbeat)
		}

		if config.Hub != nil {
			v1.GET("/events", func(c *gin.Context) {
				config.Hub.ServeWS(c.Writer, c.Request)
			})
		}
	}

	return router
}

// authMiddleware verifies API key authentication
func authMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-Salahguard-Key")
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			c.JSON(401, gin.H{
				"error": "Unauthorized",
				"code":  "UNAUTHORIZED",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
