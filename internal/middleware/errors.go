package middleware

import (
	"github.com/gin-gonic/gin"

	"meru/backend/internal/domain"
)

// abortWithError 以统一响应结构终止请求
//
// 字段与 transport 层的 Response 保持一致，中间件不依赖 transport 包。
func abortWithError(c *gin.Context, err error, msg string) {
	kind := domain.KindOf(err)
	status := domain.StatusHint(kind)
	c.AbortWithStatusJSON(status, gin.H{
		"ok":         false,
		"code":       status,
		"msg":        msg,
		"errorKind":  kind,
		"statusHint": status,
	})
}
