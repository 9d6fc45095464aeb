package service

import (
	"context"
	"errors"

	"letterdrop/backend/internal/domain"
)

// errNoChange 文档无需写回
var errNoChange = errors.New("no change")

// Notifier 新信件通知
type Notifier interface {
	LetterCreated(ctx context.Context, key string)
}

// EventPublisher 推送信件变更事件
type EventPublisher interface {
	Publish(event domain.LetterEvent)
}

// Enqueuer 通知队列入口
type Enqueuer interface {
	Enqueue(ctx context.Context, email, subject, html, key string) (domain.NotificationJob, error)
}

// MailSender 立即发送一封邮件
type MailSender interface {
	Send(ctx context.Context, settings domain.SMTPSettings, mail domain.OutgoingMail) error
}

func ignoreNoChange(err error) error {
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}
