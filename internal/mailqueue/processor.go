package mailqueue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrProcessorRunning 队列已有运行中的处理循环
var ErrProcessorRunning = errors.New("queue processor already running")

// DefaultInterval 默认轮询间隔
const DefaultInterval = 5 * time.Second

// Processor 后台处理循环句柄
type Processor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop 停止处理循环并等待当前一轮结束
func (p *Processor) Stop() {
	p.cancel()
	<-p.done
}

// Done 处理循环退出时关闭
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// Start 启动后台处理循环：立即处理一轮，之后每隔 interval 处理一轮。
// 同一队列同时只允许一个处理循环。
func (q *Queue) Start(ctx context.Context, interval time.Duration) (*Processor, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processor != nil {
		return nil, ErrProcessorRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Processor{cancel: cancel, done: make(chan struct{})}
	q.processor = p

	go q.run(ctx, p, interval)

	q.log.Info("notification queue processor started", zap.Duration("interval", interval))
	return p, nil
}

func (q *Queue) run(ctx context.Context, p *Processor, interval time.Duration) {
	defer func() {
		q.mu.Lock()
		if q.processor == p {
			q.processor = nil
		}
		q.mu.Unlock()
		close(p.done)
		q.log.Info("notification queue processor stopped")
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := q.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			q.log.Error("failed to process notification queue", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
