package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"meru/backend/internal/domain"
)

// Response 统一响应结构
type Response struct {
	OK         bool             `json:"ok"`                   // 是否成功
	Code       int              `json:"code"`                 // 业务状态码
	Msg        string           `json:"msg"`                  // 中文提示信息
	ErrorKind  domain.ErrorKind `json:"errorKind,omitempty"`  // 失败时的错误类别
	StatusHint int              `json:"statusHint,omitempty"` // 失败时建议的 HTTP 状态
	Data       interface{}      `json:"data,omitempty"`       // 数据载荷
	Warnings   []Warning        `json:"warnings,omitempty"`   // 非致命警告
}

// Warning 成功响应附带的非致命警告
type Warning struct {
	ErrorKind domain.ErrorKind `json:"errorKind"`
	Msg       string           `json:"msg"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}, warnings ...error) {
	c.JSON(http.StatusOK, Response{
		OK:       true,
		Code:     http.StatusOK,
		Msg:      "成功",
		Data:     data,
		Warnings: toWarnings(warnings),
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		OK:   true,
		Code: http.StatusCreated,
		Msg:  "创建成功",
		Data: data,
	})
}

// Fail 按错误类别返回失败响应
//
// 响应只包含类别与固定的中文消息，底层错误只进入日志。
func Fail(c *gin.Context, log *zap.Logger, err error) {
	kind := domain.KindOf(err)
	status := domain.StatusHint(kind)
	if kind == domain.KindStorageError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, Response{
		OK:         false,
		Code:       status,
		Msg:        KindMessage(kind),
		ErrorKind:  kind,
		StatusHint: status,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		OK:         false,
		Code:       http.StatusBadRequest,
		Msg:        msg,
		ErrorKind:  domain.KindInvalidRequest,
		StatusHint: http.StatusBadRequest,
	})
}

// NotFound 路由不存在（404）
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{
		OK:         false,
		Code:       http.StatusNotFound,
		Msg:        MsgRouteNotFound,
		ErrorKind:  domain.KindInvalidRequest,
		StatusHint: http.StatusNotFound,
	})
}

func toWarnings(errs []error) []Warning {
	var warnings []Warning
	for _, err := range errs {
		if err == nil {
			continue
		}
		kind := domain.KindOf(err)
		if errors.Is(err, domain.ErrNotificationFailed) {
			kind = domain.KindNotificationFailed
		}
		warnings = append(warnings, Warning{ErrorKind: kind, Msg: KindMessage(kind)})
	}
	return warnings
}
