package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meru/backend/internal/auth"
	"meru/backend/internal/middleware"
)

// SessionHandler 处理登录、会话校验与登出
type SessionHandler struct {
	sessions     *auth.SessionManager
	cookieName   string
	cookieSecure bool
	log          *zap.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessions *auth.SessionManager, cookieName string, cookieSecure bool, log *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:     sessions,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
		log:          log,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionStatus struct {
	Authenticated bool        `json:"authenticated"`
	Principal     interface{} `json:"principal,omitempty"`
}

// Login 登录并写入会话 Cookie，同时在响应体中返回令牌
func (h *SessionHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.sessions.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		Fail(c, h.log, err)
		return
	}

	h.setCookie(c, result.Token, int(h.sessions.TTL().Seconds()))
	Success(c, result)
}

// Validate 返回当前请求的会话状态，匿名不是错误
func (h *SessionHandler) Validate(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		Success(c, sessionStatus{Authenticated: false})
		return
	}
	Success(c, sessionStatus{Authenticated: true, Principal: principal})
}

// Logout 删除会话并清除 Cookie，重复调用不报错
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context(), middleware.GetToken(c)); err != nil {
		Fail(c, h.log, err)
		return
	}
	h.setCookie(c, "", -1)
	Success(c, nil)
}

// Me 返回已登录用户的身份
func (h *SessionHandler) Me(c *gin.Context) {
	Success(c, middleware.GetPrincipal(c))
}

func (h *SessionHandler) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookieName, value, maxAge, "/", "", h.cookieSecure, true)
}
