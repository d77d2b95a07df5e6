package errors

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Normalize 将存储驱动层的错误规范化为 AppError。
//
// 注意：
//   - 已经是 IError 的错误原样返回；
//   - 未识别的错误保持原样，交由调用方决定是否包装。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(IError); ok {
		return err
	}

	switch {
	case stdErrors.Is(err, sql.ErrNoRows), stdErrors.Is(err, mongo.ErrNoDocuments):
		return WrapError(err, ErrCodeNotFound, "document not found")
	case stdErrors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return WrapError(err, ErrCodeTimeout, "store operation timed out")
	case mongo.IsDuplicateKeyError(err), isSQLiteUniqueViolation(err):
		return WrapError(err, ErrCodeDuplicate, "duplicate document id")
	}

	return err
}

// sqlite 驱动没有导出错误类型可供断言，只能按消息识别唯一约束
func isSQLiteUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
