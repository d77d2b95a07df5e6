package association

import (
	"docbind/document"
)

type identifiable interface{ ID() any }

// ConvertToForeignKey 将值转换为外键字段的存储形式
//
// 带 ID() 的值（包括文档）先解包为主键；多态关联直接返回，
// 其余按被引用模型的主键类型转换，数组逐项转换。
func (a *Association) ConvertToForeignKey(v any) any {
	if idr, ok := v.(identifiable); ok {
		v = idr.ID()
	}
	if a.Polymorphic() {
		return v
	}
	cls := a.keyClass()
	if cls == nil {
		return v
	}
	field, _ := cls.Field("_id")
	if cls.UsingObjectIDs() {
		if items, ok := document.ToSlice(v); ok {
			return convertEach(items, document.ObjectID)
		}
		return document.ObjectID.Mongoize(v)
	}
	if items, ok := document.ToSlice(v); ok {
		return convertEach(items, field.Type)
	}
	return field.Type.Mongoize(v)
}

func convertEach(items []any, t document.FieldType) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = t.Mongoize(item)
	}
	return out
}

// keyClass 主键所属模型：belongs_to 为目标类，has_one/has_many 为 owner
func (a *Association) keyClass() *document.Model {
	switch a.macro {
	case HasOne, HasMany:
		return a.owner
	default:
		cls, err := a.RelationClass()
		if err != nil {
			return nil
		}
		return cls
	}
}
