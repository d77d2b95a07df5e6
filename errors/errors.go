// Package errors 定义 docbind 统一的错误码与错误实现
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"

	// 关联声明与使用方式错误
	ErrCodeConfiguration         ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeAmbiguousRelationship ErrorCode = "AMBIGUOUS_RELATIONSHIP"
	ErrCodeMixedRelation         ErrorCode = "MIXED_RELATION"
	ErrCodeUnsupportedOperation  ErrorCode = "UNSUPPORTED_OPERATION"

	// 文档生命周期
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeDuplicate       ErrorCode = "DUPLICATE_ERROR"
	ErrCodeDependency      ErrorCode = "DEPENDENCY_ERROR"
	ErrCodeUnsavedDocument ErrorCode = "UNSAVED_DOCUMENT"

	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// IError 带错误码与详情的错误
type IError interface {
	error
	Code() ErrorCode
	Message() string
	Cause() error
	// Details 关联错误固定携带 owner 与 relation
	Details() map[string]any
	WithDetails(details map[string]any) IError
	WithContext(key string, value any) IError
}

// AppError IError 的实现，详情只读，追加详情返回新错误
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return &AppError{code: code, message: message, details: map[string]any{}}
}

// NewErrorWithCause 创建带原因的错误
func NewErrorWithCause(code ErrorCode, message string, cause error) IError {
	return &AppError{code: code, message: message, cause: cause, details: map[string]any{}}
}

// WrapError 包装错误，err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return NewErrorWithCause(code, message, err)
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error { return e.cause }
func (e *AppError) Unwrap() error { return e.cause }
func (e *AppError) Details() map[string]any { return e.details }

// Is 目标为 AppError 时按错误码匹配，否则沿 cause 链匹配
func (e *AppError) Is(target error) bool {
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	return e.cause != nil && stdErrors.Is(e.cause, target)
}

// WithDetails 合并详情，返回新错误
func (e *AppError) WithDetails(details map[string]any) IError {
	merged := maps.Clone(e.details)
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, details)
	return &AppError{code: e.code, message: e.message, cause: e.cause, details: merged}
}

// WithContext 追加单个详情字段
func (e *AppError) WithContext(key string, value any) IError {
	return e.WithDetails(map[string]any{key: value})
}

// 哨兵错误，配合 errors.Is 按错误码匹配
var (
	ErrConfiguration         = NewError(ErrCodeConfiguration, "invalid relation configuration")
	ErrAmbiguousRelationship = NewError(ErrCodeAmbiguousRelationship, "ambiguous relationship")
	ErrMixedRelation         = NewError(ErrCodeMixedRelation, "mixed embedded and referenced relation")
	ErrUnsupportedOperation  = NewError(ErrCodeUnsupportedOperation, "unsupported operation")
	ErrValidation            = NewError(ErrCodeValidation, "validation failed")
	ErrDependency            = NewError(ErrCodeDependency, "dependent documents exist")
	ErrUnsavedDocument       = NewError(ErrCodeUnsavedDocument, "base document is not saved")
	ErrNotFound              = NewError(ErrCodeNotFound, "document not found")
	ErrDuplicate             = NewError(ErrCodeDuplicate, "duplicate document id")
	ErrTimeout               = NewError(ErrCodeTimeout, "store operation timed out")
)

func IsNotFound(err error) bool   { return IsErrorCode(err, ErrCodeNotFound) }
func IsValidation(err error) bool { return IsErrorCode(err, ErrCodeValidation) }

// IsConfiguration 配置错误，歧义关联也算
func IsConfiguration(err error) bool {
	return IsErrorCode(err, ErrCodeConfiguration) || IsErrorCode(err, ErrCodeAmbiguousRelationship)
}

// IsErrorCode 错误链上任一 AppError 的错误码等于 code
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stdErrors.As(err, &appErr) {
			return false
		}
		if appErr.code == code {
			return true
		}
		err = appErr.cause
	}
	return false
}

// GetErrorCode 最外层 AppError 的错误码；非 AppError 视为 INTERNAL_ERROR
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}
