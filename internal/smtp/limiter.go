package smtp

import (
	"context"

	"golang.org/x/time/rate"
)

// ConnectionLimiter 外发 SMTP 连接限流器
type ConnectionLimiter struct {
	slots       chan struct{}
	rateLimiter *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数
//   - perSecond: 每秒最大新建连接数，<= 0 表示不限速
func NewConnectionLimiter(maxConns int, perSecond float64) *ConnectionLimiter {
	if maxConns <= 0 {
		maxConns = 1
	}

	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &ConnectionLimiter{
		slots:       make(chan struct{}, maxConns),
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

// Acquire 等待连接许可，ctx 取消时返回错误
func (l *ConnectionLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := l.rateLimiter.Wait(ctx); err != nil {
		<-l.slots
		return err
	}
	return nil
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	return len(l.slots)
}
