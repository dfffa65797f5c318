package response

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/pkg/logger"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Message: msg})
}

func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Code: http.StatusUnauthorized, Message: msg})
}

func Forbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, Response{Code: http.StatusForbidden, Message: msg})
}

func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{Code: http.StatusNotFound, Message: msg})
}

func Conflict(c *gin.Context, msg string) {
	c.JSON(http.StatusConflict, Response{Code: http.StatusConflict, Message: msg})
}

func TooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{Code: http.StatusTooManyRequests, Message: "rate limit exceeded"})
}

// InternalError 记录并上报错误，对外只返回通用信息
func InternalError(c *gin.Context, err error) {
	logger.Error("internal error", zap.String("path", c.FullPath()), zap.Error(err))
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
	c.JSON(http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Message: "internal server error"})
}

// Error 按错误类别映射 HTTP 状态码
func Error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		BadRequest(c, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, apperr.ErrInvalidState):
		Conflict(c, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		Forbidden(c, "forbidden")
	case errors.Is(err, apperr.ErrAuthentication):
		// 不回显网关凭证相关细节
		logger.Error("upstream authentication failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, Response{Code: http.StatusBadGateway, Message: "payment provider authentication failed"})
	case errors.Is(err, apperr.ErrIntegration):
		logger.Warn("upstream integration failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, Response{Code: http.StatusBadGateway, Message: "upstream service unavailable"})
	default:
		InternalError(c, err)
	}
}
