// Package logging 关联与持久化使用的日志抽象
//
// 默认全局 Logger 为 StdLogger（Info 级别）；生产环境通常通过
// SetLogger(NewZapLogger(...)) 或 document.Config.Logger 接入 zap。
package logging

import (
	"context"
	"sync/atomic"
)

// Logger 日志接口
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	// WithFields 返回附带固定字段的新 Logger
	WithFields(fields ...Field) Logger
}

// Field 日志字段
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field    { return Field{Key: key, Value: value} }
func Int(key string, value int) Field   { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field   { return Field{Key: key, Value: value} }
func Error(err error) Field             { return Field{Key: "error", Value: err} }

// Model 模型名
func Model(name string) Field { return Field{Key: "model", Value: name} }

// Relation 关联名
func Relation(name string) Field { return Field{Key: "relation", Value: name} }

// NoopLogger 丢弃全部日志
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (*NoopLogger) Debug(context.Context, string, ...Field) {}
func (*NoopLogger) Info(context.Context, string, ...Field)  {}
func (*NoopLogger) Warn(context.Context, string, ...Field)  {}
func (*NoopLogger) Error(context.Context, string, ...Field) {}
func (l *NoopLogger) WithFields(...Field) Logger            { return l }

type holder struct{ Logger }

var global atomic.Value

func init() {
	global.Store(holder{NewStdLogger("[docbind]", InfoLevel)})
}

// SetLogger 替换全局 Logger，nil 关闭日志
func SetLogger(logger Logger) {
	if logger == nil {
		logger = NewNoopLogger()
	}
	global.Store(holder{logger})
}

// GetLogger 全局 Logger
func GetLogger() Logger {
	return global.Load().(holder).Logger
}
