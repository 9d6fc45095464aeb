package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdrop/backend/internal/domain"
	"letterdrop/backend/internal/service"
)

// 验证模式
const (
	modeRead  = "read"
	modeWrite = "write"
)

// Handler 处理公开的信件、密钥与订阅接口
type Handler struct {
	keys        *service.KeyService
	letters     *service.LetterService
	subscribers *service.SubscriberService
	log         *zap.Logger
}

type verifyRequest struct {
	Key      string `json:"key"`
	Password string `json:"password"`
	Mode     string `json:"mode"`
}

type verifyResponse struct {
	Exists  bool            `json:"exists"`
	Valid   bool            `json:"valid"`
	Created bool            `json:"created"`
	Found   bool            `json:"found"`
	Letters []domain.Letter `json:"letters"`
}

// verify godoc
// @Summary 验证密钥
// @Description 读信模式直接返回信件；写信模式校验密码，密钥不存在时创建
// @Tags Letters
// @Router /api/verify [post]
func (h *Handler) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if req.Key == "" {
		BadRequest(c, MsgKeyRequired)
		return
	}

	ctx := c.Request.Context()

	if req.Mode == modeWrite && req.Password == "" {
		BadRequest(c, MsgWritePassword)
		return
	}

	res, err := h.keys.Verify(ctx, req.Key, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if req.Mode == modeWrite {
		if !res.Exists {
			if err := h.keys.Create(ctx, req.Key, req.Password); err != nil {
				respondError(c, h.log, err)
				return
			}
			SuccessWithMsg(c, MsgKeyCreated, verifyResponse{
				Exists:  true,
				Valid:   true,
				Created: true,
				Letters: []domain.Letter{},
			})
			return
		}
		if !res.Valid {
			respondError(c, h.log, domain.ErrUnauthorized)
			return
		}
	}

	letters, err := h.letters.List(ctx, req.Key)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	msg := "成功"
	if len(letters) == 0 {
		msg = MsgNoLetters
	}
	SuccessWithMsg(c, msg, verifyResponse{
		Exists:  res.Exists,
		Valid:   res.Valid,
		Found:   len(letters) > 0,
		Letters: letters,
	})
}

type listLettersRequest struct {
	Key string `json:"key" binding:"required"`
}

// listLetters 按密钥列出信件
func (h *Handler) listLetters(c *gin.Context) {
	var req listLettersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	letters, err := h.letters.List(c.Request.Context(), req.Key)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"letters": letters})
}

type replyRequest struct {
	Key       string     `json:"key" binding:"required"`
	Password  string     `json:"password" binding:"required"`
	Content   string     `json:"content" binding:"required"`
	ID        string     `json:"id"`
	CreatedAt *time.Time `json:"createdAt"`
}

// reply godoc
// @Summary 保存信件
// @Description 携带已有信件 ID 时原地更新，否则新建并通知订阅者
// @Tags Letters
// @Router /api/reply [post]
func (h *Handler) reply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	if err := h.keys.Authorize(ctx, req.Key, req.Password); err != nil {
		respondError(c, h.log, err)
		return
	}

	letter, created, err := h.letters.Save(ctx, service.SaveLetterInput{
		Key:       req.Key,
		Content:   req.Content,
		ID:        req.ID,
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if created {
		CreatedWithMsg(c, "信件已保存", letter)
		return
	}
	SuccessWithMsg(c, "信件已更新", letter)
}

type deleteLetterRequest struct {
	Key      string `json:"key" binding:"required"`
	Password string `json:"password" binding:"required"`
	ID       string `json:"id" binding:"required"`
}

// deleteLetter 删除单封信件
func (h *Handler) deleteLetter(c *gin.Context) {
	var req deleteLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	if err := h.keys.Authorize(ctx, req.Key, req.Password); err != nil {
		respondError(c, h.log, err)
		return
	}

	if err := h.letters.Delete(ctx, req.Key, req.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			NotFound(c, MsgLetterNotFound)
			return
		}
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "信件已删除", gin.H{"id": req.ID})
}

type subscribeRequest struct {
	Key   string `json:"key" binding:"required"`
	Email string `json:"email" binding:"required"`
}

// subscribe 订阅密钥的新信件通知
func (h *Handler) subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	added, err := h.subscribers.Subscribe(c.Request.Context(), req.Key, req.Email)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	msg := MsgSubscribed
	if !added {
		msg = MsgAlreadySubscribe
	}
	SuccessWithMsg(c, msg, gin.H{"subscribed": true, "already": !added})
}

type renameKeyRequest struct {
	Key      string `json:"key" binding:"required"`
	NewKey   string `json:"newKey" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// renameKey 重命名密钥
func (h *Handler) renameKey(c *gin.Context) {
	var req renameKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.keys.UpdateKey(c.Request.Context(), req.Key, req.NewKey, req.Password); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "密钥已更新", gin.H{"key": req.NewKey})
}

type deleteKeyRequest struct {
	Key      string `json:"key" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// deleteKey 删除密钥及其信件与订阅
func (h *Handler) deleteKey(c *gin.Context) {
	var req deleteKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.keys.Delete(c.Request.Context(), req.Key, req.Password); err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "密钥已删除", gin.H{"key": req.Key})
}
