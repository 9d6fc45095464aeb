package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdrop/backend/internal/logger"
)

// VisitRecorder 记录访问量
type VisitRecorder interface {
	RecordVisit(ctx context.Context) error
}

// VisitCounter 每个请求访问量加一，计数失败不影响请求
func VisitCounter(recorder VisitRecorder, log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log).Named("stats")

	return func(c *gin.Context) {
		if err := recorder.RecordVisit(c.Request.Context()); err != nil {
			log.Warn("failed to record visit", zap.Error(err))
		}
		c.Next()
	}
}
