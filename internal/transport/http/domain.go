package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meru/backend/internal/service"
)

// DomainHandler 处理域名查询与管理
type DomainHandler struct {
	domains *service.DomainService
	log     *zap.Logger
}

// NewDomainHandler 创建域名处理器
func NewDomainHandler(domains *service.DomainService, log *zap.Logger) *DomainHandler {
	return &DomainHandler{domains: domains, log: log}
}

type createDomainRequest struct {
	Name string `json:"name"`
}

// Get 按 ID 查询域名，注册页面据此显示完整地址
func (h *DomainHandler) Get(c *gin.Context) {
	d, err := h.domains.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, h.log, err)
		return
	}
	Success(c, d)
}

// List 列出所有域名（管理员）
func (h *DomainHandler) List(c *gin.Context) {
	domains, err := h.domains.List(c.Request.Context())
	if err != nil {
		Fail(c, h.log, err)
		return
	}
	Success(c, domains)
}

// Create 添加域名（管理员）
func (h *DomainHandler) Create(c *gin.Context) {
	var req createDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	d, err := h.domains.Create(c.Request.Context(), req.Name)
	if err != nil {
		Fail(c, h.log, err)
		return
	}

	h.log.Info("domain created", zap.String("domain_id", d.ID), zap.String("name", d.Name))
	Created(c, d)
}
