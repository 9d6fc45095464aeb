package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/monitoring"
	"letterdrop/backend/internal/pool"
	"letterdrop/backend/internal/storage"
)

// Deliverer 投递一封邮件
type Deliverer interface {
	Send(ctx context.Context, settings domain.SMTPSettings, mail domain.OutgoingMail) error
}

// SettingsSource 提供当前的 SMTP 配置
type SettingsSource interface {
	SMTPSettings(ctx context.Context) (domain.SMTPSettings, error)
}

// Options 队列选项
type Options struct {
	Concurrency int
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
}

// Queue 持久化的通知队列。
// 每个任务最多失败 domain.MaxRetry 次，之后被丢弃。
type Queue struct {
	doc         *storage.Document[[]domain.NotificationJob]
	settings    SettingsSource
	deliverer   Deliverer
	concurrency int
	log         *zap.Logger
	metrics     *monitoring.Metrics

	drainMu sync.Mutex

	mu        sync.Mutex
	processor *Processor

	now   func() time.Time
	newID func() string
}

// New 创建通知队列
func New(backend storage.Backend, settings SettingsSource, deliverer Deliverer, opts Options) *Queue {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Queue{
		doc: storage.NewDocument(backend, storage.DocEmailQueue, func() []domain.NotificationJob {
			return []domain.NotificationJob{}
		}),
		settings:    settings,
		deliverer:   deliverer,
		concurrency: concurrency,
		log:         logger.OrNop(opts.Logger).Named("mailqueue"),
		metrics:     opts.Metrics,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Enqueue 追加一个通知任务
func (q *Queue) Enqueue(ctx context.Context, email, subject, html, key string) (domain.NotificationJob, error) {
	job := domain.NotificationJob{
		ID:        q.newID(),
		Email:     email,
		Subject:   subject,
		HTML:      html,
		Key:       key,
		CreatedAt: q.now().UTC(),
	}

	jobs, err := q.doc.Update(ctx, func(jobs *[]domain.NotificationJob) error {
		*jobs = append(*jobs, job)
		return nil
	})
	if err != nil {
		return domain.NotificationJob{}, fmt.Errorf("enqueue notification: %w", err)
	}

	q.metrics.RecordEnqueued()
	q.metrics.UpdateQueueDepth(len(jobs))
	return job, nil
}

// Jobs 返回当前队列快照
func (q *Queue) Jobs(ctx context.Context) ([]domain.NotificationJob, error) {
	return q.doc.Load(ctx)
}

// Len 返回队列长度
func (q *Queue) Len(ctx context.Context) (int, error) {
	jobs, err := q.doc.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// DrainOnce 处理当前队列中的全部任务。
// 投递期间新入队的任务保留到下一轮；未配置 SMTP 时队列保持不变。
func (q *Queue) DrainOnce(ctx context.Context) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	snapshot, err := q.snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snapshot) == 0 {
		q.metrics.UpdateQueueDepth(0)
		return nil
	}

	settings, err := q.settings.SMTPSettings(ctx)
	if err != nil {
		return fmt.Errorf("load smtp settings: %w", err)
	}
	if !settings.Configured() {
		q.log.Warn("smtp not configured, notifications stay queued", zap.Int("pending", len(snapshot)))
		return nil
	}

	results := q.deliver(ctx, settings, snapshot)

	// 投递结果在 ctx 取消后仍需落盘
	jobs, err := q.doc.Update(context.WithoutCancel(ctx), func(jobs *[]domain.NotificationJob) error {
		*jobs = q.settle(*jobs, results)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}

	q.metrics.UpdateQueueDepth(len(jobs))
	return nil
}

// snapshot 读取队列并为缺少 ID 的任务补齐 ID
func (q *Queue) snapshot(ctx context.Context) ([]domain.NotificationJob, error) {
	jobs, err := q.doc.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	missing := false
	for _, job := range jobs {
		if job.ID == "" {
			missing = true
			break
		}
	}
	if !missing {
		return jobs, nil
	}

	jobs, err = q.doc.Update(ctx, func(jobs *[]domain.NotificationJob) error {
		for i := range *jobs {
			if (*jobs)[i].ID == "" {
				(*jobs)[i].ID = q.newID()
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assign job ids: %w", err)
	}
	return jobs, nil
}

type outcome struct {
	err      error
	duration time.Duration
}

// deliver 并发投递快照中的任务，返回 job ID -> 结果；未尝试的任务不在结果中
func (q *Queue) deliver(ctx context.Context, settings domain.SMTPSettings, jobs []domain.NotificationJob) map[string]outcome {
	durations := make([]time.Duration, len(jobs))
	tasks := make([]pool.Task, len(jobs))
	for i, job := range jobs {
		tasks[i] = func(ctx context.Context) error {
			start := time.Now()
			defer func() { durations[i] = time.Since(start) }()
			return q.deliverer.Send(ctx, settings, domain.OutgoingMail{
				To:      job.Email,
				Subject: job.Subject,
				HTML:    job.HTML,
			})
		}
	}

	errs := pool.RunAll(ctx, q.concurrency, q.log, tasks)

	results := make(map[string]outcome, len(jobs))
	for i, job := range jobs {
		err := errs[i]
		if err != nil && ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			continue
		}
		results[job.ID] = outcome{err: err, duration: durations[i]}
	}
	return results
}

// settle 根据投递结果重建队列
func (q *Queue) settle(current []domain.NotificationJob, results map[string]outcome) []domain.NotificationJob {
	next := make([]domain.NotificationJob, 0, len(current))
	for _, job := range current {
		res, attempted := results[job.ID]
		if !attempted {
			next = append(next, job)
			continue
		}

		if res.err == nil {
			q.log.Info("notification delivered",
				zap.String("job_id", job.ID),
				zap.String("email", job.Email),
				zap.String("key", job.Key),
			)
			q.metrics.RecordDelivery(res.duration, true, false)
			continue
		}

		job.RetryCount++
		if job.Exhausted() {
			q.log.Error("notification dropped after max retries",
				zap.Error(&domain.DeliveryError{JobID: job.ID, Email: job.Email, Permanent: true, Err: res.err}),
				zap.String("key", job.Key),
				zap.Int("retry_count", job.RetryCount),
			)
			q.metrics.RecordDelivery(res.duration, false, true)
			continue
		}

		q.log.Warn("notification delivery failed, will retry",
			zap.Error(&domain.DeliveryError{JobID: job.ID, Email: job.Email, Err: res.err}),
			zap.String("key", job.Key),
			zap.Int("retry_count", job.RetryCount),
		)
		q.metrics.RecordDelivery(res.duration, false, false)
		next = append(next, job)
	}
	return next
}
