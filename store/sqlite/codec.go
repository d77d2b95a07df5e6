package sqlite

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
)

func encode(doc bson.M) ([]byte, error) {
	body, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "sqlite: encode document")
	}
	return body, nil
}

// decode 嵌套文档统一还原为 bson.M
func decode(body []byte) (bson.M, error) {
	var raw bson.M
	if err := bson.Unmarshal(body, &raw); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "sqlite: decode document")
	}
	doc, _ := document.ToM(raw)
	return doc, nil
}

// idKey 主键的文本形式，带类型前缀以区分同值不同类型的主键
func idKey(id any) string {
	switch v := document.Normalize(id).(type) {
	case bson.ObjectID:
		return "o:" + v.Hex()
	case string:
		return "s:" + v
	case int:
		return fmt.Sprintf("i:%d", v)
	case int32:
		return fmt.Sprintf("i:%d", v)
	case int64:
		return fmt.Sprintf("i:%d", v)
	default:
		b, err := bson.MarshalExtJSON(bson.M{"v": v}, true, false)
		if err != nil {
			return fmt.Sprintf("x:%v", v)
		}
		return "x:" + string(b)
	}
}

// isSafeIdentifier 表名只允许 [A-Za-z_][A-Za-z0-9_]*
func isSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_':
		case i > 0 && ch >= '0' && ch <= '9':
		default:
			return false
		}
	}
	return true
}
