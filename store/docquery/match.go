// Package docquery 在内存中求值过滤条件、更新与聚合管道，供非 MongoDB 存储复用
//
// 只支持关联层会产生的操作符子集，其余返回 ErrUnsupported。
package docquery

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
)

// ErrUnsupported 不支持的操作符
var ErrUnsupported = errors.NewError(errors.ErrCodeUnsupportedOperation, "docquery: unsupported operator")

func unsupported(op string) error {
	return errors.NewError(errors.ErrCodeUnsupportedOperation,
		fmt.Sprintf("docquery: unsupported operator %s", op)).WithContext("operator", op)
}

// Lookup 读取点分路径上的值
func Lookup(doc bson.M, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := document.ToM(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Match 判断文档是否满足过滤条件，filter 可为 bson.D 或 bson.M
func Match(doc bson.M, filter any) (bool, error) {
	if filter == nil {
		return true, nil
	}
	cond, ok := asD(filter)
	if !ok {
		return false, fmt.Errorf("docquery: filter must be a document, got %T", filter)
	}
	for _, e := range cond {
		matched, err := matchElement(doc, e)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

func matchElement(doc bson.M, e bson.E) (bool, error) {
	switch e.Key {
	case "$and", "$or":
		clauses, ok := document.ToSlice(e.Value)
		if !ok {
			return false, fmt.Errorf("docquery: %s requires an array", e.Key)
		}
		for _, clause := range clauses {
			matched, err := Match(doc, clause)
			if err != nil {
				return false, err
			}
			if e.Key == "$or" && matched {
				return true, nil
			}
			if e.Key == "$and" && !matched {
				return false, nil
			}
		}
		return e.Key == "$and", nil
	}
	if strings.HasPrefix(e.Key, "$") {
		return false, unsupported(e.Key)
	}

	value, present := Lookup(doc, e.Key)
	if ops, ok := operatorDoc(e.Value); ok {
		for _, op := range ops {
			matched, err := matchOperator(value, present, op)
			if err != nil || !matched {
				return false, err
			}
		}
		return true, nil
	}
	return equals(value, e.Value), nil
}

func matchOperator(value any, present bool, op bson.E) (bool, error) {
	switch op.Key {
	case "$eq":
		return equals(value, op.Value), nil
	case "$ne":
		return !equals(value, op.Value), nil
	case "$in", "$nin":
		candidates, ok := document.ToSlice(op.Value)
		if !ok {
			return false, fmt.Errorf("docquery: %s requires an array", op.Key)
		}
		found := false
		for _, c := range candidates {
			if equals(value, c) {
				found = true
				break
			}
		}
		return found == (op.Key == "$in"), nil
	case "$exists":
		want, _ := op.Value.(bool)
		return present == want, nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present || value == nil {
			return false, nil
		}
		c := Compare(value, op.Value)
		switch op.Key {
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	default:
		return false, unsupported(op.Key)
	}
}

// equals 等值匹配，数组字段包含该值即匹配
func equals(value, want any) bool {
	if document.EqualValues(value, want) {
		return true
	}
	if arr, ok := document.ToSlice(value); ok {
		for _, v := range arr {
			if document.EqualValues(v, want) {
				return true
			}
		}
	}
	return false
}

// operatorDoc 值为全部以 $ 开头的键组成的文档时视为操作符表达式
func operatorDoc(v any) (bson.D, bool) {
	d, ok := asD(v)
	if !ok || len(d) == 0 {
		return nil, false
	}
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, false
		}
	}
	return d, true
}

func asD(v any) (bson.D, bool) {
	switch val := v.(type) {
	case bson.D:
		return val, true
	case bson.M:
		return mToD(val), true
	case map[string]any:
		return mToD(bson.M(val)), true
	default:
		return nil, false
	}
}

// mToD 按键排序转换，保证求值顺序稳定
func mToD(m bson.M) bson.D {
	keys := sortedKeys(m)
	out := make(bson.D, 0, len(m))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: m[k]})
	}
	return out
}
