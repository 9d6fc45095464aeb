package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdrop/backend/internal/domain"
)

// errorMapping 业务错误对应的状态码与中文消息
type errorMapping struct {
	err    error
	status int
	msg    string
}

// 按顺序匹配（errors.Is），更具体的错误放在前面
var errorMappings = []errorMapping{
	{domain.ErrInvalidKey, http.StatusBadRequest, "请提供有效的密钥"},
	{domain.ErrKeyTooLong, http.StatusBadRequest, "密钥过长"},
	{domain.ErrInvalidPassword, http.StatusBadRequest, "请提供密码"},
	{domain.ErrPasswordTooLong, http.StatusBadRequest, "密码过长"},
	{domain.ErrInvalidEmail, http.StatusBadRequest, "邮箱格式不正确"},
	{domain.ErrEmailTooLong, http.StatusBadRequest, "邮箱地址过长"},
	{domain.ErrContentRequired, http.StatusBadRequest, "信件内容不能为空"},
	{domain.ErrContentTooLong, http.StatusBadRequest, "信件内容过长"},
	{domain.ErrInvalidLetterID, http.StatusBadRequest, "信件ID格式错误"},
	{domain.ErrInvalidSettings, http.StatusBadRequest, "SMTP 配置无效"},
	{domain.ErrSMTPNotConfigured, http.StatusBadRequest, "SMTP 服务尚未配置"},
	{domain.ErrNotInitialized, http.StatusBadRequest, "管理员密码尚未设置"},
	{domain.ErrAlreadyInitialized, http.StatusBadRequest, "管理员密码已设置，无法重新初始化"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "密码不正确"},
	{domain.ErrNotFound, http.StatusNotFound, "密钥或信件不存在"},
	{domain.ErrAlreadyExists, http.StatusConflict, "密钥已存在"},
	{domain.ErrConflict, http.StatusConflict, "新密钥已被占用"},
}

// 通用错误消息
const (
	MsgInvalidRequest   = "缺少必要参数"
	MsgKeyRequired      = "请提供密钥"
	MsgWritePassword    = "写信模式需要提供密码"
	MsgKeyCreated       = "已创建新密钥"
	MsgNoLetters        = "未找到对应的信件"
	MsgLetterNotFound   = "信件不存在"
	MsgSubscribed       = "订阅成功"
	MsgAlreadySubscribe = "你已经订阅过了"
	MsgTestEmailMissing = "请提供测试邮箱地址"
	MsgTestEmailSent    = "测试邮件发送成功"
	MsgTestEmailFailed  = "发送测试邮件失败"
	MsgInternalError    = "服务器错误"
)

// lookupError 返回错误对应的状态码与消息，未知错误为 500
func lookupError(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	_, msg := lookupError(err)
	return msg
}

// respondError 将业务错误写成统一响应，未知错误记录日志且不暴露细节
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg := lookupError(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
	}
	Error(c, status, msg)
}
