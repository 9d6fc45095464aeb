package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/monitoring"
	"letterdrop/backend/internal/storage"
)

// KeyChecker 判断密钥是否存在
type KeyChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// SubscriberService 订阅邮箱登记。邮箱去重区分大小写。
type SubscriberService struct {
	doc     *storage.Document[domain.SubscriberSet]
	keys    KeyChecker
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewSubscriberService 创建订阅服务
func NewSubscriberService(backend storage.Backend, keys KeyChecker, log *zap.Logger, metrics *monitoring.Metrics) *SubscriberService {
	return &SubscriberService{
		doc: storage.NewDocument(backend, storage.DocSubscribers, func() domain.SubscriberSet {
			return domain.SubscriberSet{}
		}),
		keys:    keys,
		log:     logger.OrNop(log).Named("subscribers"),
		metrics: metrics,
	}
}

// Subscribe 订阅密钥的新信件通知，重复订阅返回 added=false
func (s *SubscriberService) Subscribe(ctx context.Context, key, email string) (bool, error) {
	email = strings.TrimSpace(email)
	if err := domain.ValidateEmailError(email); err != nil {
		return false, err
	}

	exists, err := s.keys.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("key %q: %w", key, domain.ErrNotFound)
	}

	_, err = s.doc.Update(ctx, func(set *domain.SubscriberSet) error {
		for _, existing := range (*set)[key] {
			if existing == email {
				return errNoChange
			}
		}
		(*set)[key] = append((*set)[key], email)
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.metrics.RecordSubscription()
	s.log.Info("subscriber added", zap.String("key", key), zap.String("email", email))
	return true, nil
}

// List 返回密钥的订阅邮箱，没有时返回空切片
func (s *SubscriberService) List(ctx context.Context, key string) ([]string, error) {
	set, err := s.doc.Load(ctx)
	if err != nil {
		return nil, err
	}
	emails := set[key]
	if emails == nil {
		return []string{}, nil
	}
	return emails, nil
}

// All 返回全部订阅
func (s *SubscriberService) All(ctx context.Context) (domain.SubscriberSet, error) {
	return s.doc.Load(ctx)
}

// Replace 整体替换密钥的订阅列表，空列表表示移除
func (s *SubscriberService) Replace(ctx context.Context, key string, emails []string) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}

	cleaned := make([]string, 0, len(emails))
	seen := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if err := domain.ValidateEmailError(email); err != nil {
			return fmt.Errorf("%q: %w", email, err)
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		cleaned = append(cleaned, email)
	}

	_, err := s.doc.Update(ctx, func(set *domain.SubscriberSet) error {
		if len(cleaned) == 0 {
			delete(*set, key)
			return nil
		}
		(*set)[key] = cleaned
		return nil
	})
	return err
}

// RemoveKey 删除密钥的全部订阅
func (s *SubscriberService) RemoveKey(ctx context.Context, key string) error {
	_, err := s.doc.Update(ctx, func(set *domain.SubscriberSet) error {
		if _, ok := (*set)[key]; !ok {
			return errNoChange
		}
		delete(*set, key)
		return nil
	})
	return ignoreNoChange(err)
}
