package httptransport

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/logger"
	"letterdrop/backend/internal/service"
)

// QueueInspector 查询通知队列长度
type QueueInspector interface {
	Len(ctx context.Context) (int, error)
}

// AdminHandler 管理API处理器
type AdminHandler struct {
	admin       *service.AdminService
	keys        *service.KeyService
	subscribers *service.SubscriberService
	queue       QueueInspector
	log         *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(admin *service.AdminService, keys *service.KeyService, subscribers *service.SubscriberService, queue QueueInspector, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		admin:       admin,
		keys:        keys,
		subscribers: subscribers,
		queue:       queue,
		log:         logger.OrNop(log).Named("admin_api"),
	}
}

// adminConfigView 管理端可见的配置，不包含管理员密码哈希
type adminConfigView struct {
	Initialized   bool                 `json:"initialized"`
	SMTP          domain.SMTPSettings  `json:"smtp"`
	EmailTemplate domain.EmailTemplate `json:"emailTemplate"`
}

func newAdminConfigView(cfg domain.AdminConfig) adminConfigView {
	return adminConfigView{
		Initialized:   cfg.Initialized,
		SMTP:          cfg.SMTP,
		EmailTemplate: cfg.EmailTemplate,
	}
}

// Status godoc
// @Summary 管理员状态
// @Tags Admin
// @Router /api/admin/status [get]
func (h *AdminHandler) Status(c *gin.Context) {
	cfg, err := h.admin.Read(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"initialized": cfg.Initialized})
}

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

// Initialize godoc
// @Summary 设置管理员密码（只能设置一次）
// @Tags Admin
// @Router /api/admin/initialize [post]
func (h *AdminHandler) Initialize(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.admin.SetAdminPassword(c.Request.Context(), req.Password); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "管理员密码已设置", gin.H{"initialized": true})
}

// Auth godoc
// @Summary 管理员登录，返回访问令牌
// @Tags Admin
// @Router /api/admin/auth [post]
func (h *AdminHandler) Auth(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	token, err := h.admin.Authenticate(c.Request.Context(), req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, token)
}

// Data 管理面板数据：SMTP 配置、统计、邮件模板与队列长度
func (h *AdminHandler) Data(c *gin.Context) {
	ctx := c.Request.Context()

	cfg, err := h.admin.Read(ctx)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	stats, err := h.admin.Stats(ctx)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	queueLen, err := h.queue.Len(ctx)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, gin.H{
		"smtp":          cfg.SMTP,
		"stats":         stats,
		"emailTemplate": cfg.EmailTemplate,
		"queueLength":   queueLen,
	})
}

// GetConfig 读取管理端配置
func (h *AdminHandler) GetConfig(c *gin.Context) {
	cfg, err := h.admin.Read(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, newAdminConfigView(cfg))
}

type saveConfigRequest struct {
	SMTP          domain.SMTPSettings  `json:"smtp"`
	EmailTemplate domain.EmailTemplate `json:"emailTemplate"`
}

// SaveConfig 整体保存 SMTP 配置与邮件模板，管理员密码保持不变
func (h *AdminHandler) SaveConfig(c *gin.Context) {
	var req saveConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	cfg, err := h.admin.SaveSettings(c.Request.Context(), req.SMTP, req.EmailTemplate)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "配置已保存", newAdminConfigView(cfg))
}

// UpdateSMTP 更新 SMTP 配置
func (h *AdminHandler) UpdateSMTP(c *gin.Context) {
	var req domain.SMTPSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.admin.UpdateSMTP(c.Request.Context(), req); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "SMTP 配置已更新", req)
}

// UpdateEmailTemplate 更新通知邮件模板
func (h *AdminHandler) UpdateEmailTemplate(c *gin.Context) {
	var req domain.EmailTemplate
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.admin.UpdateEmailTemplate(c.Request.Context(), req); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "邮件模板已更新", gin.H{"template": req})
}

// ResetStats 重置访问统计
func (h *AdminHandler) ResetStats(c *gin.Context) {
	stats, err := h.admin.ResetStats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"stats": stats})
}

type testSMTPRequest struct {
	Email string `json:"email"`
}

// TestSMTP 立即发送一封测试邮件，不经过通知队列
func (h *AdminHandler) TestSMTP(c *gin.Context) {
	var req testSMTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		BadRequest(c, MsgTestEmailMissing)
		return
	}

	err := h.admin.TestSMTP(c.Request.Context(), req.Email)
	switch {
	case err == nil:
		SuccessWithMsg(c, MsgTestEmailSent, nil)
	case errors.Is(err, domain.ErrInvalidEmail), errors.Is(err, domain.ErrSMTPNotConfigured), errors.Is(err, domain.ErrInvalidSettings):
		respondError(c, h.log, err)
	default:
		// 传输层错误原样返回给管理员
		h.log.Warn("smtp test failed", zap.String("email", req.Email), zap.Error(err))
		InternalError(c, MsgTestEmailFailed+": "+err.Error())
	}
}

// ListKeys 列出所有密钥（不含密码哈希）
func (h *AdminHandler) ListKeys(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"keys": keys, "total": len(keys)})
}

// ListSubscribers 查询订阅者，指定 key 时只返回该密钥的列表
func (h *AdminHandler) ListSubscribers(c *gin.Context) {
	ctx := c.Request.Context()

	if key := c.Query("key"); key != "" {
		emails, err := h.subscribers.List(ctx, key)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		Success(c, gin.H{"key": key, "emails": emails})
		return
	}

	all, err := h.subscribers.All(ctx)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"subscribers": all})
}

type replaceSubscribersRequest struct {
	Key    string   `json:"key" binding:"required"`
	Emails []string `json:"emails"`
}

// ReplaceSubscribers 覆盖某个密钥的订阅者列表，空列表表示清空
func (h *AdminHandler) ReplaceSubscribers(c *gin.Context) {
	var req replaceSubscribersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	if err := h.subscribers.Replace(ctx, req.Key, req.Emails); err != nil {
		respondError(c, h.log, err)
		return
	}

	emails, err := h.subscribers.List(ctx, req.Key)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "订阅者已更新", gin.H{"key": req.Key, "emails": emails})
}
