package service

import (
	"context"
	"html"
	"strings"

	"go.uber.org/zap"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
)

// ConfigReader 读取管理端配置
type ConfigReader interface {
	Read(ctx context.Context) (domain.AdminConfig, error)
}

// SubscriberLister 列出订阅邮箱
type SubscriberLister interface {
	List(ctx context.Context, key string) ([]string, error)
}

// NotificationService 新信件到达时为每个订阅者生成通知任务。
// 所有错误只记录日志，不影响信件保存。
type NotificationService struct {
	subscribers SubscriberLister
	config      ConfigReader
	queue       Enqueuer
	publicURL   string
	log         *zap.Logger
}

// NewNotificationService 创建通知服务
func NewNotificationService(subscribers SubscriberLister, config ConfigReader, queue Enqueuer, publicURL string, log *zap.Logger) *NotificationService {
	return &NotificationService{
		subscribers: subscribers,
		config:      config,
		queue:       queue,
		publicURL:   publicURL,
		log:         logger.OrNop(log).Named("notify"),
	}
}

// LetterCreated 为密钥的订阅者入队通知邮件
func (s *NotificationService) LetterCreated(ctx context.Context, key string) {
	emails, err := s.subscribers.List(ctx, key)
	if err != nil {
		s.log.Error("failed to read subscribers", zap.String("key", key), zap.Error(err))
		return
	}
	if len(emails) == 0 {
		return
	}

	cfg, err := s.config.Read(ctx)
	if err != nil {
		s.log.Error("failed to read admin config", zap.String("key", key), zap.Error(err))
		return
	}

	subject, body, ok := s.Render(cfg.EmailTemplate, key)
	if !ok {
		s.log.Debug("email template is empty, skip notification", zap.String("key", key))
		return
	}

	for _, email := range emails {
		job, err := s.queue.Enqueue(ctx, email, subject, body, key)
		if err != nil {
			s.log.Error("failed to enqueue notification",
				zap.String("key", key),
				zap.String("email", email),
				zap.Error(err),
			)
			continue
		}
		s.log.Debug("notification enqueued",
			zap.String("key", key),
			zap.String("email", email),
			zap.String("job_id", job.ID),
		)
	}
}

// Render 替换模板中的 {{key}} 与 {{url}}，模板为空时 ok=false
func (s *NotificationService) Render(tpl domain.EmailTemplate, key string) (subject, body string, ok bool) {
	if strings.TrimSpace(tpl.Template) == "" {
		return "", "", false
	}

	subject = tpl.Subject
	if strings.TrimSpace(subject) == "" {
		subject = domain.DefaultEmailSubject
	}
	subject = strings.NewReplacer("{{key}}", key, "{{url}}", s.publicURL).Replace(subject)

	body = strings.NewReplacer(
		"{{key}}", html.EscapeString(key),
		"{{url}}", html.EscapeString(s.publicURL),
	).Replace(tpl.Template)
	return subject, body, true
}
