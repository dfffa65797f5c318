// Package apperr 定义跨层使用的错误分类。
//
// 业务代码通过 fmt.Errorf("%w: ...", apperr.ErrXxx) 包装，调用方用 errors.Is 判断类别，
// HTTP 层据此映射状态码。
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 输入不合法（手机号、金额、请求体）
	ErrValidation = errors.New("validation error")
	// ErrNotFound 订单或交易不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidState 非法状态迁移或在不允许的状态下取消
	ErrInvalidState = errors.New("invalid state")
	// ErrAuthentication 调用外部服务时凭证或令牌失败
	ErrAuthentication = errors.New("authentication error")
	// ErrIntegration 下游服务不可达或返回非 2xx
	ErrIntegration = errors.New("integration error")
	// ErrForbidden 调用者无权访问该资源
	ErrForbidden = errors.New("forbidden")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Integration 包装下游调用错误，保留原始错误链。
func Integration(service string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIntegration, service, err)
}

// Authentication 包装认证错误，保留原始错误链。
func Authentication(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrAuthentication, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrAuthentication, msg, err)
}
