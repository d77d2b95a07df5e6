package association

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/logging"
)

// Criteria 加载关联的查询条件：外键相等，多态时附加类型条件
//
// belongs_to 按目标主键查询；has_one/has_many 按目标上的外键查询，
// typ 为 base 的模型（as 多态时写入 "<as>_type" 条件）。
// 数组外键使用 $in。
func Criteria(a *Association, key any, typ *document.Model) bson.D {
	field := a.ForeignKey()
	if a.macro == BelongsTo {
		field = a.PrimaryKey()
	}
	var filter bson.D
	if items, ok := document.ToSlice(key); ok {
		filter = bson.D{{Key: field, Value: bson.D{{Key: "$in", Value: bson.A(items)}}}}
	} else {
		filter = bson.D{{Key: field, Value: key}}
	}
	if tf := a.TypeField(); tf != "" && typ != nil {
		filter = append(filter, bson.E{Key: tf, Value: typ.Name()})
	}
	return filter
}

func loggingFields(a *Association, n int) []logging.Field {
	return []logging.Field{
		logging.Model(a.owner.Name()),
		logging.Relation(a.name),
		logging.Int("count", n),
	}
}
