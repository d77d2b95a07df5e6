package document

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// FieldType 字段类型，决定写入属性时的存储转换（mongoize）
type FieldType int

const (
	// Object 不做转换，外键字段默认使用该类型
	Object FieldType = iota
	String
	Int
	Float
	Bool
	Time
	ObjectID
	UUID
	Array
)

func (t FieldType) String() string {
	switch t {
	case Object:
		return "object"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case ObjectID:
		return "object_id"
	case UUID:
		return "uuid"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// Mongoize 将值转换为该类型的存储形式，转换失败时原样返回
func (t FieldType) Mongoize(v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case String:
		if oid, ok := v.(bson.ObjectID); ok {
			return oid.Hex()
		}
		if s, err := cast.ToStringE(v); err == nil {
			return s
		}
	case Int:
		if n, err := cast.ToInt64E(v); err == nil {
			return n
		}
	case Float:
		if f, err := cast.ToFloat64E(v); err == nil {
			return f
		}
	case Bool:
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	case Time:
		if tm, err := cast.ToTimeE(v); err == nil {
			return tm.UTC().Truncate(time.Millisecond)
		}
	case ObjectID:
		return mongoizeObjectID(v)
	case UUID:
		switch val := v.(type) {
		case uuid.UUID:
			return val.String()
		case string:
			if val == "" {
				return nil
			}
			if id, err := uuid.Parse(val); err == nil {
				return id.String()
			}
		}
	case Array:
		if s, ok := ToSlice(v); ok {
			return bson.A(s)
		}
		if s, err := cast.ToSliceE(v); err == nil {
			return bson.A(s)
		}
	}
	return v
}

func mongoizeObjectID(v any) any {
	switch val := v.(type) {
	case bson.ObjectID:
		return val
	case *bson.ObjectID:
		if val == nil {
			return nil
		}
		return *val
	case string:
		if val == "" {
			return nil
		}
		if oid, err := bson.ObjectIDFromHex(val); err == nil {
			return oid
		}
	}
	return v
}

// Field 字段声明
type Field struct {
	Name    string
	Type    FieldType
	Default any

	// Identity 标记该字段保存其他文档的主键（外键）
	Identity bool
	// Association 外键字段所属的关联名
	Association string
}
