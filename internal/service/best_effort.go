package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// BestEffort 执行不影响主流程的副作用：失败只记录日志，从不向上返回错误
type BestEffort interface {
	// Attempt 执行 fn，成功返回 true
	Attempt(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) bool
}

// LoggingBestEffort 用 zap 记录失败（含 panic）
type LoggingBestEffort struct {
	log *zap.Logger
}

func NewLoggingBestEffort(log *zap.Logger) *LoggingBestEffort {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingBestEffort{log: log}
}

func (b *LoggingBestEffort) Attempt(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("best-effort call panicked", append(fields, zap.String("op", op), zap.String("panic", fmt.Sprint(r)))...)
			ok = false
		}
	}()
	if err := fn(ctx); err != nil {
		b.log.Warn("best-effort call failed", append(fields, zap.String("op", op), zap.Error(err))...)
		return false
	}
	return true
}
