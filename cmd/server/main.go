package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "letterdrop/backend/internal/auth/jwt"
	"letterdrop/backend/internal/cache"
	"letterdrop/backend/internal/config"
	"letterdrop/backend/internal/health"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/mailqueue"
	"letterdrop/backend/internal/monitoring"
	"letterdrop/backend/internal/service"
	"letterdrop/backend/internal/smtp"
	"letterdrop/backend/internal/storage/driver"
	"letterdrop/backend/internal/storage/filesystem"
	httptransport "letterdrop/backend/internal/transport/http"
	"letterdrop/backend/internal/websocket"
)

const (
	shutdownTimeout   = 10 * time.Second
	// 限流桶数量上限，超出时淘汰最早过期的 IP
	maxLimiterEntries = 100000
	highMemoryMB      = 512
	alertInterval     = time.Minute
)

// main 启动 HTTP API、通知队列与 WebSocket 推送。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting letterdrop server",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	backend, err := driver.Open(cfg, "", log)
	if err != nil {
		return fmt.Errorf("failed to initialize document storage: %w", err)
	}
	defer backend.Close()

	letterStore, err := filesystem.NewLetterStore(cfg.Storage.MessagesDir)
	if err != nil {
		return fmt.Errorf("failed to initialize messages directory: %w", err)
	}
	log.Info("letter storage initialized", zap.String("path", letterStore.Dir()))

	metrics := monitoring.NewMetrics()

	tokens := jwtpkg.NewManager(cfg.Admin.JWTSecret, cfg.Admin.Issuer, cfg.Admin.TokenExpiry)
	sender := smtp.NewSender(cfg.SMTP, cfg.Queue.Concurrency, log.Named("smtp"))

	// 初始化服务层
	adminService := service.NewAdminService(backend, tokens, sender, log)
	queue := mailqueue.New(backend, adminService, sender, mailqueue.Options{
		Concurrency: cfg.Queue.Concurrency,
		Logger:      log,
		Metrics:     metrics,
	})

	keyService := service.NewKeyService(backend, letterStore, log, metrics)
	subscriberService := service.NewSubscriberService(backend, keyService, log, metrics)
	// 设置密钥服务和订阅服务的关联（避免循环依赖）
	keyService.SetSubscriberService(subscriberService)

	notificationService := service.NewNotificationService(subscriberService, adminService, queue, cfg.Site.PublicURL, log)
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, keyService, log, metrics)
	letterService := service.NewLetterService(letterStore, notificationService, wsHub, log, metrics)

	limiterCache := cache.NewLocalCache(maxLimiterEntries, cfg.RateLimit.Window)

	alerts := monitoring.NewAlertManager(log)
	alerts.AddReceiver(monitoring.NewLogAlertReceiver(log.Named("alert")))
	alerts.AddRule(monitoring.QueueBacklogRule(queue.Len, cfg.Queue.BacklogAlert))
	alerts.AddRule(monitoring.StorageUnavailableRule(backend))
	alerts.AddRule(monitoring.HighMemoryUsageRule(highMemoryMB))

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:            cfg,
		KeyService:        keyService,
		LetterService:     letterService,
		SubscriberService: subscriberService,
		AdminService:      adminService,
		Queue:             queue,
		JWTManager:        tokens,
		WebSocketHub:      wsHub,
		Health:            health.NewHealthChecker(backend, letterStore, log),
		Metrics:           metrics,
		LimiterCache:      limiterCache,
		Logger:            log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 通知队列 goroutine
	processor, err := queue.Start(groupCtx, cfg.Queue.Interval)
	if err != nil {
		return err
	}
	group.Go(func() error {
		log.Info("notification queue started", zap.Duration("interval", cfg.Queue.Interval))
		<-processor.Done()
		log.Info("notification queue stopped")
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 限流桶清理 goroutine
	group.Go(func() error {
		limiterCache.Run(groupCtx, time.Minute)
		return nil
	})

	// 告警检查 goroutine
	group.Go(func() error {
		alerts.Run(groupCtx, alertInterval)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		processor.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
