// Package logger 全局 zap 日志
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// Init 按运行模式初始化全局 logger，release 输出 JSON，其余输出彩色控制台格式
func Init(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	if mode == "release" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	mu.Lock()
	log = l
	mu.Unlock()
	return l.WithOptions(zap.AddCallerSkip(-1)), nil
}

// L 返回当前全局 logger
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log.WithOptions(zap.AddCallerSkip(-1))
}

func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current().Error(msg, fields...) }

// With 返回带固定字段的子 logger
func With(fields ...zap.Field) *zap.Logger { return L().With(fields...) }

// Sync 刷新缓冲
func Sync() error { return current().Sync() }

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}
