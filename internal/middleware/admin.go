package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdrop/backend/internal/auth/jwt"
	"letterdrop/backend/internal/logger"
)

// ContextKeyRole 管理端角色在 gin 上下文中的键
const ContextKeyRole = "role"

// AdminAuth 管理员权限中间件
type AdminAuth struct {
	tokens *jwt.Manager
	log    *zap.Logger
}

// NewAdminAuth 创建管理员权限中间件
func NewAdminAuth(tokens *jwt.Manager, log *zap.Logger) *AdminAuth {
	return &AdminAuth{
		tokens: tokens,
		log:    logger.OrNop(log).Named("admin_auth"),
	}
}

// RequireAdmin 要求有效的管理端令牌
func (a *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "请先登录管理后台",
			})
			return
		}

		claims, err := a.tokens.ValidateToken(token)
		if err != nil {
			a.log.Warn("invalid admin token", zap.Error(err), zap.String("ip", c.ClientIP()))
			msg := "登录凭证无效"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "登录已过期，请重新登录"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  msg,
			})
			return
		}

		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// extractToken 从 Authorization: Bearer 头提取令牌
func extractToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
