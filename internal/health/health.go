package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/storage"
)

const checkTimeout = 5 * time.Second

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Report 健康报告
type Report struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health    healthcheck.Handler
	backend   storage.Backend
	letters   storage.LetterRepository
	logger    *zap.Logger
	startTime time.Time
}

// NewHealthChecker 创建健康检查器
//
// 存活检查只看进程自身（goroutine 数量），就绪检查覆盖文档存储和信件目录。
func NewHealthChecker(backend storage.Backend, letters storage.LetterRepository, log *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health:    healthcheck.NewHandler(),
		backend:   backend,
		letters:   letters,
		logger:    logger.OrNop(log).Named("health"),
		startTime: time.Now(),
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))

	hc.health.AddReadinessCheck("documents", healthcheck.Timeout(BackendCheck(hc.backend), checkTimeout))
	hc.health.AddReadinessCheck("messages", healthcheck.Timeout(LettersCheck(hc.letters), checkTimeout))
}

// Handler 返回健康检查处理器，提供 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行全部检查并汇总
func (hc *HealthChecker) CheckHealth(ctx context.Context) Report {
	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(hc.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string, 2),
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := hc.backend.Health(ctx); err != nil {
		report.Checks["documents"] = "ERROR: " + err.Error()
		report.Status = StatusUnhealthy
	} else {
		report.Checks["documents"] = "OK"
	}

	if err := hc.letters.Health(); err != nil {
		report.Checks["messages"] = "ERROR: " + err.Error()
		report.Status = StatusUnhealthy
	} else {
		report.Checks["messages"] = "OK"
	}

	if report.Status != StatusHealthy {
		hc.logger.Warn("health check failed", zap.Any("checks", report.Checks))
	}

	return report
}

// BackendCheck 文档存储健康检查
func BackendCheck(backend storage.Backend) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		return backend.Health(ctx)
	}
}

// LettersCheck 信件目录健康检查
func LettersCheck(letters storage.LetterRepository) healthcheck.Check {
	return func() error {
		return letters.Health()
	}
}
