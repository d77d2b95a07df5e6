package errors

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// TestWrap 测试基本错误包装
func TestWrap(t *testing.T) {
	ctx := context.Background()
	original := stdErrors.New("原始错误")

	wrapped := Wrap(ctx, original, ErrCodeInternal, "包装消息")
	require.Error(t, wrapped)
	assert.True(t, stdErrors.Is(wrapped, original))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(wrapped))

	assert.Nil(t, Wrap(ctx, nil, ErrCodeInternal, "消息"))
}

// TestAppError_IsByCode 测试按错误码匹配预定义错误
func TestAppError_IsByCode(t *testing.T) {
	err := NewError(ErrCodeAmbiguousRelationship, "Flower has two candidates")

	assert.True(t, stdErrors.Is(err, ErrAmbiguousRelationship))
	assert.False(t, stdErrors.Is(err, ErrMixedRelation))
	assert.True(t, IsConfiguration(err))
	assert.True(t, IsConfiguration(NewError(ErrCodeConfiguration, "bad option")))
	assert.False(t, IsConfiguration(ErrValidation))
}

// TestAppError_WithDetails 测试详情复制语义
func TestAppError_WithDetails(t *testing.T) {
	base := NewError(ErrCodeDependency, "restricted")
	withOwner := base.WithContext("owner", "Flower")
	withBoth := withOwner.WithDetails(map[string]any{"relation": "petals"})

	assert.Empty(t, base.Details())
	assert.Equal(t, map[string]any{"owner": "Flower"}, withOwner.Details())
	assert.Equal(t, map[string]any{"owner": "Flower", "relation": "petals"}, withBoth.Details())
	assert.Equal(t, ErrCodeDependency, withBoth.Code())
}

// TestIsErrorCode_Chain 测试错误链上的错误码查找
func TestIsErrorCode_Chain(t *testing.T) {
	inner := NewError(ErrCodeNotFound, "missing")
	outer := WrapError(inner, ErrCodeDatabase, "load failed")

	assert.True(t, IsErrorCode(outer, ErrCodeDatabase))
	assert.True(t, IsNotFound(outer))
	assert.False(t, IsErrorCode(stdErrors.New("plain"), ErrCodeNotFound))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
}

// TestNormalize 测试驱动错误规范化
func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "sql无结果", err: sql.ErrNoRows, want: ErrCodeNotFound},
		{name: "mongo无文档", err: mongo.ErrNoDocuments, want: ErrCodeNotFound},
		{name: "超时", err: context.DeadlineExceeded, want: ErrCodeTimeout},
		{name: "sqlite唯一约束", err: stdErrors.New("constraint failed: UNIQUE constraint failed: petals.id (1555)"), want: ErrCodeDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorCode(Normalize(tt.err)))
		})
	}

	plain := stdErrors.New("connection reset")
	assert.Same(t, plain, Normalize(plain))
	assert.Nil(t, Normalize(nil))
}

// TestWrapDatabaseError 测试存储错误包装
func TestWrapDatabaseError(t *testing.T) {
	ctx := context.Background()

	assert.Nil(t, WrapDatabaseError(ctx, nil, "insert"))

	err := WrapDatabaseError(ctx, stdErrors.New("disk I/O error"), "insert")
	assert.Equal(t, ErrCodeDatabase, GetErrorCode(err))

	notFound := WrapDatabaseError(ctx, sql.ErrNoRows, "find")
	assert.True(t, IsNotFound(notFound))
}
