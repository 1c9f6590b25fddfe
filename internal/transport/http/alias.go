package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meru/backend/internal/service"
)

// AliasHandler 处理别名管理（管理员）
type AliasHandler struct {
	aliases *service.AliasService
	log     *zap.Logger
}

// NewAliasHandler 创建别名处理器
func NewAliasHandler(aliases *service.AliasService, log *zap.Logger) *AliasHandler {
	return &AliasHandler{aliases: aliases, log: log}
}

type createAliasRequest struct {
	Domain      string `json:"domain"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Create 创建别名，与已有用户或别名冲突时返回 IdentityTaken
func (h *AliasHandler) Create(c *gin.Context) {
	var req createAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	alias, err := h.aliases.Create(c.Request.Context(), service.AliasInput{
		Domain:      req.Domain,
		Source:      req.Source,
		Destination: req.Destination,
	})
	if err != nil {
		Fail(c, h.log, err)
		return
	}

	Created(c, alias)
}
