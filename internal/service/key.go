package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"letterdrop/backend/internal/auth"
	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/monitoring"
	"letterdrop/backend/internal/storage"
)

// KeyService 封装密钥相关业务操作。
type KeyService struct {
	doc         *storage.Document[domain.KeySet]
	letters     storage.LetterRepository
	subscribers *SubscriberService
	log         *zap.Logger
	metrics     *monitoring.Metrics
	now         func() time.Time
}

// NewKeyService 创建密钥业务服务。
func NewKeyService(backend storage.Backend, letters storage.LetterRepository, log *zap.Logger, metrics *monitoring.Metrics) *KeyService {
	return &KeyService{
		doc: storage.NewDocument(backend, storage.DocKeys, func() domain.KeySet {
			return domain.KeySet{}
		}),
		letters: letters,
		log:     logger.OrNop(log).Named("keys"),
		metrics: metrics,
		now:     time.Now,
	}
}

// SetSubscriberService 设置订阅服务（避免循环依赖）
func (s *KeyService) SetSubscriberService(subscribers *SubscriberService) {
	s.subscribers = subscribers
}

// Exists 密钥是否已注册
func (s *KeyService) Exists(ctx context.Context, key string) (bool, error) {
	if err := domain.ValidateKey(key); err != nil {
		return false, err
	}
	keys, err := s.doc.Load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := keys[key]
	return ok, nil
}

// Verify 校验密钥与密码。未提供密码时只检查密钥是否存在（只读访问）。
func (s *KeyService) Verify(ctx context.Context, key, password string) (domain.VerifyResult, error) {
	if err := domain.ValidateKey(key); err != nil {
		return domain.VerifyResult{}, err
	}

	keys, err := s.doc.Load(ctx)
	if err != nil {
		return domain.VerifyResult{}, err
	}

	rec, ok := keys[key]
	if !ok {
		return domain.VerifyResult{Exists: false}, nil
	}
	if password == "" {
		return domain.VerifyResult{Exists: true, Valid: true}, nil
	}

	valid, needsRehash := auth.CheckPassword(password, rec.PasswordHash)
	if valid && needsRehash {
		s.upgradeHash(ctx, key, password)
	}
	return domain.VerifyResult{Exists: true, Valid: valid}, nil
}

// Authorize 要求密钥存在且密码正确
func (s *KeyService) Authorize(ctx context.Context, key, password string) error {
	if err := domain.ValidatePassword(password); err != nil {
		return err
	}
	res, err := s.Verify(ctx, key, password)
	if err != nil {
		return err
	}
	if !res.Exists {
		return fmt.Errorf("key %q: %w", key, domain.ErrNotFound)
	}
	if !res.Valid {
		return domain.ErrUnauthorized
	}
	return nil
}

// Create 注册新密钥，已存在时返回 ErrAlreadyExists
func (s *KeyService) Create(ctx context.Context, key, password string) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	if err := domain.ValidatePassword(password); err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	_, err = s.doc.Update(ctx, func(keys *domain.KeySet) error {
		if _, ok := (*keys)[key]; ok {
			return fmt.Errorf("key %q: %w", key, domain.ErrAlreadyExists)
		}
		(*keys)[key] = domain.KeyRecord{
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordKeyCreated()
	s.log.Info("key created", zap.String("key", key))
	return nil
}

// UpdateKey 重命名密钥。信件文件与订阅不随之迁移。
func (s *KeyService) UpdateKey(ctx context.Context, oldKey, newKey, password string) error {
	if err := domain.ValidateKey(oldKey); err != nil {
		return err
	}
	if err := domain.ValidateKey(newKey); err != nil {
		return err
	}

	// bcrypt 比较较慢，先在锁外完成
	keys, err := s.doc.Load(ctx)
	if err != nil {
		return err
	}
	rec, ok := keys[oldKey]
	if !ok {
		return fmt.Errorf("key %q: %w", oldKey, domain.ErrNotFound)
	}
	valid, needsRehash := auth.CheckPassword(password, rec.PasswordHash)
	if !valid {
		return domain.ErrUnauthorized
	}
	hash := rec.PasswordHash
	if needsRehash {
		if upgraded, err := auth.HashPassword(password); err == nil {
			hash = upgraded
		}
	}

	now := s.now().UTC()
	_, err = s.doc.Update(ctx, func(keys *domain.KeySet) error {
		current, ok := (*keys)[oldKey]
		if !ok {
			return fmt.Errorf("key %q: %w", oldKey, domain.ErrNotFound)
		}
		// 校验后密码被并发修改
		if current.PasswordHash != rec.PasswordHash {
			return domain.ErrUnauthorized
		}
		if newKey == oldKey {
			return errNoChange
		}
		if _, taken := (*keys)[newKey]; taken {
			return fmt.Errorf("key %q: %w", newKey, domain.ErrConflict)
		}

		current.PasswordHash = hash
		current.UpdatedAt = now
		delete(*keys, oldKey)
		(*keys)[newKey] = current
		return nil
	})
	if err := ignoreNoChange(err); err != nil {
		return err
	}

	s.log.Info("key renamed", zap.String("key", oldKey), zap.String("new_key", newKey))
	return nil
}

// Delete 删除密钥及其所有信件与订阅
func (s *KeyService) Delete(ctx context.Context, key, password string) error {
	if err := s.Authorize(ctx, key, password); err != nil {
		return err
	}

	_, err := s.doc.Update(ctx, func(keys *domain.KeySet) error {
		if _, ok := (*keys)[key]; !ok {
			return fmt.Errorf("key %q: %w", key, domain.ErrNotFound)
		}
		delete(*keys, key)
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.RecordKeyDeleted()

	removed, err := s.letters.DeleteAll(key)
	if err != nil {
		return fmt.Errorf("failed to delete letters of key %q: %w", key, err)
	}
	if s.subscribers != nil {
		if err := s.subscribers.RemoveKey(ctx, key); err != nil {
			return fmt.Errorf("failed to delete subscribers of key %q: %w", key, err)
		}
	}

	s.log.Info("key deleted", zap.String("key", key), zap.Int("letters_removed", removed))
	return nil
}

// List 列出所有密钥（管理端），按创建时间排序
func (s *KeyService) List(ctx context.Context) ([]domain.KeyInfo, error) {
	keys, err := s.doc.Load(ctx)
	if err != nil {
		return nil, err
	}

	var subs domain.SubscriberSet
	if s.subscribers != nil {
		subs, err = s.subscribers.All(ctx)
		if err != nil {
			return nil, err
		}
	}

	infos := make([]domain.KeyInfo, 0, len(keys))
	for key, rec := range keys {
		count, err := s.letters.Count(key)
		if err != nil {
			s.log.Warn("failed to count letters", zap.String("key", key), zap.Error(err))
		}
		infos = append(infos, domain.KeyInfo{
			Key:             key,
			CreatedAt:       rec.CreatedAt,
			UpdatedAt:       rec.UpdatedAt,
			LetterCount:     count,
			SubscriberCount: len(subs[key]),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Key < infos[j].Key
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos, nil
}

// upgradeHash 将旧版 MD5 摘要升级为 bcrypt，失败只记录日志
func (s *KeyService) upgradeHash(ctx context.Context, key, password string) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		s.log.Warn("failed to rehash legacy password", zap.String("key", key), zap.Error(err))
		return
	}

	_, err = s.doc.Update(ctx, func(keys *domain.KeySet) error {
		rec, ok := (*keys)[key]
		if !ok || !auth.IsLegacyHash(rec.PasswordHash) {
			return errNoChange
		}
		rec.PasswordHash = hash
		(*keys)[key] = rec
		return nil
	})
	if err := ignoreNoChange(err); err != nil {
		s.log.Warn("failed to store upgraded password hash", zap.String("key", key), zap.Error(err))
		return
	}
	s.log.Info("legacy password hash upgraded", zap.String("key", key))
}
