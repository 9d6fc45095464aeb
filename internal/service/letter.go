package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/monitoring"
	"letterdrop/backend/internal/storage"
)

// LetterService 封装信件相关业务操作。
type LetterService struct {
	repo     storage.LetterRepository
	notifier Notifier
	events   EventPublisher
	log      *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewLetterService 创建信件业务服务。notifier 与 events 可以为 nil。
func NewLetterService(repo storage.LetterRepository, notifier Notifier, events EventPublisher, log *zap.Logger, metrics *monitoring.Metrics) *LetterService {
	return &LetterService{
		repo:     repo,
		notifier: notifier,
		events:   events,
		log:      logger.OrNop(log).Named("letters"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// SaveLetterInput 定义保存信件所需的输入。
type SaveLetterInput struct {
	Key       string
	Content   string
	ID        string     // 可选：覆盖已有信件
	CreatedAt *time.Time // 可选：新信件的创建时间
}

// List 按创建时间倒序列出信件
func (s *LetterService) List(ctx context.Context, key string) ([]domain.Letter, error) {
	if err := domain.ValidateKey(key); err != nil {
		return nil, err
	}
	letters, err := s.repo.List(key)
	if err != nil {
		return nil, err
	}
	if letters == nil {
		letters = []domain.Letter{}
	}
	return letters, nil
}

// Save 保存信件。ID 命中已有信件时原地覆盖内容，否则新建并触发通知。
// 第二个返回值表示是否新建。
func (s *LetterService) Save(ctx context.Context, input SaveLetterInput) (*domain.Letter, bool, error) {
	if err := domain.ValidateKey(input.Key); err != nil {
		return nil, false, err
	}
	if err := domain.ValidateContent(input.Content); err != nil {
		return nil, false, err
	}

	if input.ID != "" {
		letter, err := s.repo.Update(input.Key, input.ID, input.Content)
		switch {
		case err == nil:
			s.publish(domain.LetterEvent{Type: domain.LetterUpdated, Key: input.Key, Letter: letter, ID: letter.ID})
			s.log.Info("letter updated", zap.String("key", input.Key), zap.String("id", letter.ID))
			return letter, false, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, false, err
		}
	}

	createdAt := s.now()
	if input.CreatedAt != nil && !input.CreatedAt.IsZero() {
		createdAt = *input.CreatedAt
	}

	letter, err := s.repo.Create(input.Key, input.Content, createdAt)
	if err != nil {
		return nil, false, err
	}

	s.publish(domain.LetterEvent{Type: domain.LetterCreated, Key: input.Key, Letter: letter, ID: letter.ID})
	s.log.Info("letter created", zap.String("key", input.Key), zap.String("id", letter.ID))

	if s.notifier != nil {
		// 信件已落盘，通知不受请求取消影响
		s.notifier.LetterCreated(context.WithoutCancel(ctx), input.Key)
	}
	return letter, true, nil
}

// Delete 删除单封信件，不存在时返回 ErrNotFound
func (s *LetterService) Delete(ctx context.Context, key, id string) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	if err := s.repo.Delete(key, id); err != nil {
		return err
	}

	s.publish(domain.LetterEvent{Type: domain.LetterDeleted, Key: key, ID: id})
	s.log.Info("letter deleted", zap.String("key", key), zap.String("id", id))
	return nil
}

// Count 返回密钥下的信件数量
func (s *LetterService) Count(ctx context.Context, key string) (int, error) {
	return s.repo.Count(key)
}

func (s *LetterService) publish(event domain.LetterEvent) {
	s.metrics.RecordLetter(event.Type)
	if s.events != nil {
		s.events.Publish(event)
	}
}
