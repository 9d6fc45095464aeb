package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"letterdrop/backend/internal/auth"
	"letterdrop/backend/internal/auth/jwt"
	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/smtp"
	"letterdrop/backend/internal/storage"
)

// AdminService 管理端配置与访问统计
type AdminService struct {
	config *storage.Document[domain.AdminConfig]
	stats  *storage.Document[domain.Stats]
	tokens *jwt.Manager
	sender MailSender
	log    *zap.Logger
	now    func() time.Time
}

// NewAdminService 创建管理服务。tokens 为 nil 时不能登录，sender 为 nil 时不能发送测试邮件。
func NewAdminService(backend storage.Backend, tokens *jwt.Manager, sender MailSender, log *zap.Logger) *AdminService {
	return &AdminService{
		config: storage.NewDocument(backend, storage.DocAdmin, domain.DefaultAdminConfig),
		stats:  storage.NewDocument(backend, storage.DocStats, domain.DefaultStats),
		tokens: tokens,
		sender: sender,
		log:    logger.OrNop(log).Named("admin"),
		now:    time.Now,
	}
}

// Read 读取配置，首次读取时写入默认配置
func (s *AdminService) Read(ctx context.Context) (domain.AdminConfig, error) {
	return s.config.LoadOrCreate(ctx)
}

// Write 整体替换配置
func (s *AdminService) Write(ctx context.Context, cfg domain.AdminConfig) error {
	return s.config.Replace(ctx, cfg)
}

// SaveSettings 保存 SMTP 与模板，管理员密码与初始化状态保持不变
func (s *AdminService) SaveSettings(ctx context.Context, settings domain.SMTPSettings, tpl domain.EmailTemplate) (domain.AdminConfig, error) {
	if err := validateSMTP(settings); err != nil {
		return domain.AdminConfig{}, err
	}
	return s.config.Update(ctx, func(cfg *domain.AdminConfig) error {
		cfg.SMTP = settings
		cfg.EmailTemplate = tpl
		return nil
	})
}

// UpdateSMTP 替换 SMTP 配置
func (s *AdminService) UpdateSMTP(ctx context.Context, settings domain.SMTPSettings) error {
	if err := validateSMTP(settings); err != nil {
		return err
	}
	_, err := s.config.Update(ctx, func(cfg *domain.AdminConfig) error {
		cfg.SMTP = settings
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("smtp settings updated", zap.String("server", settings.Address()))
	return nil
}

// UpdateEmailTemplate 替换通知模板
func (s *AdminService) UpdateEmailTemplate(ctx context.Context, tpl domain.EmailTemplate) error {
	_, err := s.config.Update(ctx, func(cfg *domain.AdminConfig) error {
		cfg.EmailTemplate = tpl
		return nil
	})
	return err
}

// SMTPSettings 当前 SMTP 配置
func (s *AdminService) SMTPSettings(ctx context.Context) (domain.SMTPSettings, error) {
	cfg, err := s.Read(ctx)
	if err != nil {
		return domain.SMTPSettings{}, err
	}
	return cfg.SMTP, nil
}

// SetAdminPassword 设置管理员密码，只允许一次
func (s *AdminService) SetAdminPassword(ctx context.Context, password string) error {
	if err := domain.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = s.config.Update(ctx, func(cfg *domain.AdminConfig) error {
		if cfg.Initialized || cfg.PasswordHash != nil {
			return domain.ErrAlreadyInitialized
		}
		cfg.PasswordHash = &hash
		cfg.Initialized = true
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("admin password initialized")
	return nil
}

// VerifyAdminPassword 校验管理员密码
func (s *AdminService) VerifyAdminPassword(cfg domain.AdminConfig, password string) bool {
	if cfg.PasswordHash == nil || password == "" {
		return false
	}
	ok, _ := auth.CheckPassword(password, *cfg.PasswordHash)
	return ok
}

// Authenticate 校验管理员密码并签发令牌
func (s *AdminService) Authenticate(ctx context.Context, password string) (*jwt.Token, error) {
	if s.tokens == nil {
		return nil, domain.ErrUnauthorized
	}

	cfg, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.Initialized || cfg.PasswordHash == nil {
		return nil, domain.ErrNotInitialized
	}

	ok, needsRehash := auth.CheckPassword(password, *cfg.PasswordHash)
	if !ok {
		s.log.Warn("admin login failed")
		return nil, domain.ErrUnauthorized
	}
	if needsRehash {
		s.upgradeHash(ctx, password)
	}

	return s.tokens.Generate()
}

// Stats 访问统计
func (s *AdminService) Stats(ctx context.Context) (domain.Stats, error) {
	return s.stats.Load(ctx)
}

// RecordVisit 访问计数加一
func (s *AdminService) RecordVisit(ctx context.Context) error {
	_, err := s.stats.Update(ctx, func(st *domain.Stats) error {
		st.Visits++
		return nil
	})
	return err
}

// ResetStats 清零访问计数
func (s *AdminService) ResetStats(ctx context.Context) (domain.Stats, error) {
	now := s.now().UTC()
	stats, err := s.stats.Update(ctx, func(st *domain.Stats) error {
		st.Visits = 0
		st.LastReset = now
		return nil
	})
	if err != nil {
		return domain.Stats{}, err
	}
	s.log.Info("visit stats reset")
	return stats, nil
}

// TestSMTP 立即发送一封测试邮件，不经过队列
func (s *AdminService) TestSMTP(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := domain.ValidateEmailError(email); err != nil {
		return err
	}
	if s.sender == nil {
		return domain.ErrSMTPNotConfigured
	}

	settings, err := s.SMTPSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.Configured() {
		return domain.ErrSMTPNotConfigured
	}

	if err := s.sender.Send(ctx, settings, smtp.ProbeMail(email, s.now())); err != nil {
		s.log.Warn("smtp test failed", zap.String("email", email), zap.Error(err))
		return err
	}
	s.log.Info("smtp test mail sent", zap.String("email", email))
	return nil
}

func (s *AdminService) upgradeHash(ctx context.Context, password string) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return
	}
	_, err = s.config.Update(ctx, func(cfg *domain.AdminConfig) error {
		if cfg.PasswordHash == nil || !auth.IsLegacyHash(*cfg.PasswordHash) {
			return errNoChange
		}
		cfg.PasswordHash = &hash
		return nil
	})
	if err := ignoreNoChange(err); err != nil {
		s.log.Warn("failed to store upgraded admin password hash", zap.Error(err))
	}
}

func validateSMTP(settings domain.SMTPSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	return nil
}
