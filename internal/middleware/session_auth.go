package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meru/backend/internal/auth"
	"meru/backend/internal/domain"
)

const (
	principalKey = "principal"
	tokenKey     = "sessionToken"
)

// SessionAuth 会话认证中间件
type SessionAuth struct {
	sessions   *auth.SessionManager
	cookieName string
	log        *zap.Logger
}

// NewSessionAuth 创建会话认证中间件
func NewSessionAuth(sessions *auth.SessionManager, cookieName string, log *zap.Logger) *SessionAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionAuth{
		sessions:   sessions,
		cookieName: cookieName,
		log:        log,
	}
}

// CookieName 返回会话 Cookie 名称
func (sa *SessionAuth) CookieName() string {
	return sa.cookieName
}

// LoadSession 校验请求携带的会话令牌，有效时把身份写入上下文
//
// 令牌缺失或无效时按匿名继续处理，存储故障时返回 500。
func (sa *SessionAuth) LoadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sa.ExtractToken(c)
		if token == "" {
			c.Next()
			return
		}
		c.Set(tokenKey, token)

		principal, err := sa.sessions.Validate(c.Request.Context(), token, c.ClientIP())
		if err != nil {
			sa.log.Error("session validation failed", zap.Error(err))
			abortWithError(c, err, "服务器内部错误，请稍后重试")
			return
		}
		if principal != nil {
			c.Set(principalKey, principal)
		}
		c.Next()
	}
}

// RequireAuth 要求有效会话
func (sa *SessionAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetPrincipal(c) == nil {
			abortWithError(c, domain.ErrUnauthorized, "需要登录认证")
			return
		}
		c.Next()
	}
}

// RequireAdmin 要求管理员会话
func (sa *SessionAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			abortWithError(c, domain.ErrUnauthorized, "需要登录认证")
			return
		}
		if !principal.IsAdmin {
			sa.log.Warn("admin access denied",
				zap.String("user_id", principal.UserID),
				zap.String("ip", c.ClientIP()),
			)
			abortWithError(c, domain.ErrForbidden, "权限不足")
			return
		}
		c.Next()
	}
}

// ExtractToken 从 Authorization 头或会话 Cookie 中提取令牌
func (sa *SessionAuth) ExtractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
	}

	token, err := c.Cookie(sa.cookieName)
	if err == nil && token != "" {
		return token
	}
	return ""
}

// GetPrincipal 返回 LoadSession 写入的身份，匿名时为 nil
func GetPrincipal(c *gin.Context) *domain.Principal {
	val, exists := c.Get(principalKey)
	if !exists {
		return nil
	}
	principal, _ := val.(*domain.Principal)
	return principal
}

// GetToken 返回请求携带的会话令牌
func GetToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}
