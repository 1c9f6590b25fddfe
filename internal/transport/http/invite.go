package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meru/backend/internal/service"
)

// InviteHandler 处理邀请码签发
type InviteHandler struct {
	invites *service.InviteService
	log     *zap.Logger
}

// NewInviteHandler 创建邀请码处理器
func NewInviteHandler(invites *service.InviteService, log *zap.Logger) *InviteHandler {
	return &InviteHandler{invites: invites, log: log}
}

type issueInviteRequest struct {
	Email string `json:"email"`
}

type issueInviteResponse struct {
	DomainID string `json:"domainId"`
	Notified bool   `json:"notified"`
}

// Issue 为已有账户签发邀请码，邀请码只通过邮件下发
//
// 通知失败不回滚邀请码，以警告形式返回。
func (h *InviteHandler) Issue(c *gin.Context) {
	var req issueInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	issued, err := h.invites.IssueInvite(c.Request.Context(), req.Email)
	if err != nil {
		Fail(c, h.log, err)
		return
	}

	Success(c, issueInviteResponse{
		DomainID: issued.Invite.DomainID,
		Notified: issued.NotifyErr == nil,
	}, issued.Warning())
}
