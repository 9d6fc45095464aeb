package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"letterdrop/backend/internal/logger"
)

// Task 提交到协程池的任务
type Task func(ctx context.Context) error

// WorkerPool 协程池
//
// 用于限制并发协程数量，避免一次投递过多邮件压垮 SMTP 服务
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
	log        *zap.Logger
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, log *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
		log:        logger.OrNop(log),
	}
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 如果队列已满，会阻塞直到有空位
func (p *WorkerPool) Submit(task func()) {
	p.taskQueue <- task
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 false
func (p *WorkerPool) TrySubmit(task func()) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop 停止协程池并等待已领取的任务结束
func (p *WorkerPool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.safeRun(task)
		}
	}
}

func (p *WorkerPool) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}

// RunAll 以最多 maxWorkers 的并发执行所有任务，返回每个任务的结果。
// 任务 panic 会被转换为错误；ctx 取消后未开始的任务结果为 ctx.Err()。
func RunAll(ctx context.Context, maxWorkers int, log *zap.Logger, tasks []Task) []error {
	results := make([]error, len(tasks))
	for i := range results {
		results[i] = context.Canceled
	}
	if len(tasks) == 0 {
		return results
	}

	p := NewWorkerPool(maxWorkers, len(tasks), log)
	p.Start(ctx)

	var mu sync.Mutex
	for i, task := range tasks {
		i, task := i, task
		p.Submit(func() {
			err := runTask(ctx, task)
			mu.Lock()
			results[i] = err
			mu.Unlock()
		})
	}
	p.Stop()

	if ctxErr := ctx.Err(); ctxErr != nil {
		mu.Lock()
		for i, err := range results {
			if err == context.Canceled {
				results[i] = ctxErr
			}
		}
		mu.Unlock()
	}
	return results
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}
