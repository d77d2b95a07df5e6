package errors

import (
	"context"
	"fmt"
	"runtime"

	"docbind/logging"
)

// Wrap 以 code 包装 err，并在 Debug 级别记录调用位置
func Wrap(ctx context.Context, err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	logging.GetLogger().Debug(ctx, "error wrapped",
		logging.String("message", msg), logging.String("location", caller()))
	return WrapError(err, code, msg)
}

// WrapWithLog 同 Wrap，但以 Warn 级别记录原始错误与附加字段
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}
	logging.GetLogger().Warn(ctx, msg, append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", caller()),
	}, fields...)...)
	return WrapError(err, code, msg)
}

// WrapDatabaseError 存储适配器边界的统一出口
//
// Normalize 能识别的驱动错误（未找到、超时、重复主键）按原错误码返回且不记录日志，
// 其余归为 DATABASE_ERROR 并以 Warn 记录。
func WrapDatabaseError(ctx context.Context, err error, operation string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}
	if appErr, ok := Normalize(err).(IError); ok && appErr.Code() != ErrCodeDatabase {
		return appErr
	}
	return WrapWithLog(ctx, err, ErrCodeDatabase, "store operation failed: "+operation,
		append([]logging.Field{logging.String("operation", operation)}, fields...)...)
}

// caller 返回 Wrap/WrapWithLog 调用方的位置
func caller() string {
	_, file, line, _ := runtime.Caller(2)
	return fmt.Sprintf("%s:%d", file, line)
}
