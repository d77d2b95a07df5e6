// Package idgen 提供文档主键生成器
package idgen

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Generator 主键生成器
type Generator interface {
	// Next 生成下一个主键值
	Next() (any, error)
}

// GeneratorFunc 函数适配器
type GeneratorFunc func() (any, error)

func (f GeneratorFunc) Next() (any, error) { return f() }

// ObjectIDGenerator 生成 BSON ObjectID，默认主键类型
type ObjectIDGenerator struct{}

func (ObjectIDGenerator) Next() (any, error) {
	return bson.NewObjectID(), nil
}

// UUIDGenerator 生成字符串形式的 UUIDv4
type UUIDGenerator struct{}

func (UUIDGenerator) Next() (any, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}
