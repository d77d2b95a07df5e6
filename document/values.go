package document

import (
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ToM 将 bson.M / bson.D / map[string]any 统一转换为 bson.M，嵌套文档一并转换
func ToM(v any) (bson.M, bool) {
	switch val := v.(type) {
	case bson.M:
		out := make(bson.M, len(val))
		for k, inner := range val {
			out[k] = Normalize(inner)
		}
		return out, true
	case map[string]any:
		return ToM(bson.M(val))
	case bson.D:
		out := make(bson.M, len(val))
		for _, e := range val {
			out[e.Key] = Normalize(e.Value)
		}
		return out, true
	case bson.Raw:
		var m bson.M
		if err := bson.Unmarshal(val, &m); err != nil {
			return nil, false
		}
		return ToM(m)
	default:
		return nil, false
	}
}

// ToSlice 将各种数组表示统一转换为 []any
func ToSlice(v any) ([]any, bool) {
	switch val := v.(type) {
	case bson.A:
		return normalizeSlice(val), true
	case []any:
		return normalizeSlice(val), true
	case []bson.M:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = Normalize(m)
		}
		return out, true
	case []bson.D:
		out := make([]any, len(val))
		for i, d := range val {
			out[i] = Normalize(d)
		}
		return out, true
	default:
		return nil, false
	}
}

func normalizeSlice(in []any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = Normalize(v)
	}
	return out
}

// Normalize 递归转换：文档统一为 bson.M，数组统一为 bson.A，bson.DateTime 转为 UTC time.Time
func Normalize(v any) any {
	if dt, ok := v.(bson.DateTime); ok {
		return dt.Time().UTC()
	}
	if m, ok := ToM(v); ok {
		return m
	}
	if s, ok := ToSlice(v); ok {
		return bson.A(s)
	}
	return v
}

// EqualValues 比较两个属性值，数值类型按数值比较，时间按毫秒比较
func EqualValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ia, ok := asInt(a); ok {
		if ib, ok := asInt(b); ok {
			return ia == ib
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.UnixMilli() == tb.UnixMilli()
		}
		return false
	}
	if ma, ok := ToM(a); ok {
		mb, ok := ToM(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, present := mb[k]
			if !present || !EqualValues(va, vb) {
				return false
			}
		}
		return true
	}
	if sa, ok := ToSlice(a); ok {
		sb, ok := ToSlice(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !EqualValues(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// deepCopy 复制属性值，避免快照与当前属性共享可变容器
func deepCopy(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(bson.M, len(val))
		for k, inner := range val {
			out[k] = deepCopy(inner)
		}
		return out
	case map[string]any:
		return deepCopy(bson.M(val))
	case bson.D:
		out := make(bson.D, len(val))
		for i, e := range val {
			out[i] = bson.E{Key: e.Key, Value: deepCopy(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(val))
		for i, inner := range val {
			out[i] = deepCopy(inner)
		}
		return out
	case []any:
		return deepCopy(bson.A(val))
	default:
		return v
	}
}

// CopyM 深拷贝 bson.M
func CopyM(m bson.M) bson.M {
	if m == nil {
		return bson.M{}
	}
	return deepCopy(m).(bson.M)
}
