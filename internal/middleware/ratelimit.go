package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"letterdrop/backend/internal/cache"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/monitoring"
)

// MsgTooManyRequests 限流提示
const MsgTooManyRequests = "请求过于频繁，请稍后再试"

// IPRateLimiter 单 IP 令牌桶限流
//
// 每个 IP 持有一个容量为 requests、每 window/requests 补充一个令牌的桶，
// 桶保存在 LocalCache 中，IP 闲置超过 window 后被清理。
type IPRateLimiter struct {
	limiters *cache.LocalCache
	requests int
	every    rate.Limit
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewIPRateLimiter 创建限流器
func NewIPRateLimiter(limiters *cache.LocalCache, requests int, window time.Duration, metrics *monitoring.Metrics, log *zap.Logger) *IPRateLimiter {
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if limiters == nil {
		limiters = cache.NewLocalCache(0, window)
	}

	return &IPRateLimiter{
		limiters: limiters,
		requests: requests,
		every:    rate.Every(window / time.Duration(requests)),
		metrics:  metrics,
		log:      logger.OrNop(log).Named("ratelimit"),
	}
}

// Allow 消耗 ip 的一个令牌
func (l *IPRateLimiter) Allow(ip string) bool {
	limiter := l.limiters.GetOrSet(ip, func() any {
		return rate.NewLimiter(l.every, l.requests)
	}).(*rate.Limiter)
	return limiter.Allow()
}

// Middleware 超限时返回 429
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.Allow(ip) {
			l.metrics.RecordRateLimitBlock("ip")
			l.log.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  MsgTooManyRequests,
			})
			return
		}
		c.Next()
	}
}
