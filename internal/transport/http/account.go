package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meru/backend/internal/service"
)

// AccountHandler 处理账户注册与改密
type AccountHandler struct {
	accounts *service.AccountService
	log      *zap.Logger
}

// NewAccountHandler 创建账户处理器
func NewAccountHandler(accounts *service.AccountService, log *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, log: log}
}

type createAccountRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Invite   string `json:"invite"`
	Domain   string `json:"domain"`
}

type changePasswordRequest struct {
	Email       string `json:"email"`
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// Create 兑换邀请码创建账户
func (h *AccountHandler) Create(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.accounts.CreateAccount(c.Request.Context(), service.AccountInput{
		Name:       req.User,
		Password:   req.Password,
		InviteCode: req.Invite,
		Domain:     req.Domain,
	})
	if err != nil {
		Fail(c, h.log, err)
		return
	}

	Created(c, result)
}

// ChangePassword 校验旧密码后修改密码，并注销该用户的会话
func (h *AccountHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.accounts.ChangePassword(c.Request.Context(), req.Email, req.OldPassword, req.NewPassword); err != nil {
		Fail(c, h.log, err)
		return
	}

	Success(c, nil)
}
