package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "letterdrop/backend/internal/auth/jwt"
	"letterdrop/backend/internal/cache"
	"letterdrop/backend/internal/config"
	"letterdrop/backend/internal/health"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/middleware"
	"letterdrop/backend/internal/monitoring"
	"letterdrop/backend/internal/service"
	"letterdrop/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	KeyService        *service.KeyService
	LetterService     *service.LetterService
	SubscriberService *service.SubscriberService
	AdminService      *service.AdminService
	Queue             QueueInspector
	JWTManager        *jwtpkg.Manager
	WebSocketHub      *websocket.Hub        // 可选
	Health            *health.HealthChecker // 可选
	Metrics           *monitoring.Metrics   // 可选
	LimiterCache      *cache.LocalCache     // 单 IP 限流桶，由调用方负责定期清理
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := logger.OrNop(deps.Logger)
	cfg := deps.Config

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(monitor.HTTPMetrics())
	}
	router.Use(middleware.BodySizeLimit(cfg.Server.MaxBodyBytes))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	allowAll := len(corsConfig.AllowOrigins) == 0
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
	}
	if allowAll {
		corsConfig.AllowCredentials = false
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		keys:        deps.KeyService,
		letters:     deps.LetterService,
		subscribers: deps.SubscriberService,
		log:         log.Named("api"),
	}
	adminHandler := NewAdminHandler(deps.AdminService, deps.KeyService, deps.SubscriberService, deps.Queue, log)
	adminAuth := middleware.NewAdminAuth(deps.JWTManager, log)
	limiter := middleware.NewIPRateLimiter(deps.LimiterCache, cfg.RateLimit.Requests, cfg.RateLimit.Window, deps.Metrics, log)

	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		report := deps.Health.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if report.Status != health.StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	api := router.Group("/api")
	api.Use(limiter.Middleware())
	api.Use(middleware.VisitCounter(deps.AdminService, log))

	adminRoutes := api.Group("/admin")
	{
		adminRoutes.GET("/status", adminHandler.Status)
		adminRoutes.POST("/initialize", adminHandler.Initialize)
		adminRoutes.POST("/auth", adminHandler.Auth)

		protected := adminRoutes.Group("")
		protected.Use(adminAuth.RequireAdmin())
		{
			protected.GET("/data", adminHandler.Data)
			protected.GET("/config", adminHandler.GetConfig)
			protected.PUT("/config", adminHandler.SaveConfig)
			protected.POST("/smtp", adminHandler.UpdateSMTP)
			protected.POST("/email-template", adminHandler.UpdateEmailTemplate)
			protected.POST("/reset-stats", adminHandler.ResetStats)
			protected.POST("/test-smtp", adminHandler.TestSMTP)
			protected.GET("/keys", adminHandler.ListKeys)
			protected.GET("/subscribers", adminHandler.ListSubscribers)
			protected.PUT("/subscribers", adminHandler.ReplaceSubscribers)
		}
	}

	public := api.Group("")
	{
		public.POST("/verify", handler.verify)
		public.POST("/letters", handler.listLetters)
		public.POST("/reply", handler.reply)
		public.POST("/letters/delete", handler.deleteLetter)
		public.POST("/subscribe", handler.subscribe)
		public.PUT("/keys", handler.renameKey)
		public.POST("/keys/delete", handler.deleteKey)
	}

	if deps.WebSocketHub != nil {
		api.GET("/ws", deps.WebSocketHub.Handler())
	}

	return router
}
