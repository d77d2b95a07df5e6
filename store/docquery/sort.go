package docquery

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
)

// 类型排序权重，近似 BSON 比较顺序
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return 1
	case string:
		return 2
	case bson.M, bson.D, map[string]any:
		return 3
	case bson.A, []any:
		return 4
	case bson.ObjectID:
		return 6
	case bool:
		return 7
	case time.Time:
		return 8
	default:
		return 9
	}
}

// Compare 比较两个值，返回 -1/0/1
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case string:
		return strings.Compare(av, b.(string))
	case bson.ObjectID:
		bv := b.(bson.ObjectID)
		return bytes.Compare(av[:], bv[:])
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case time.Time:
		return av.Compare(b.(time.Time))
	}
	if ra == 1 {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	if document.EqualValues(a, b) {
		return 0
	}
	return strings.Compare(stringify(a), stringify(b))
}

func toFloat(v any) (float64, bool) {
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
	}
	return 0, false
}

func stringify(v any) string {
	b, err := bson.MarshalExtJSON(bson.M{"v": v}, true, false)
	if err != nil {
		return ""
	}
	return string(b)
}

// Sort 按排序规格稳定排序，spec 形如 bson.D{{"position", 1}, {"name", -1}}
func Sort(docs []bson.M, spec any) {
	keys, ok := asD(spec)
	if !ok || len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			dir := 1
			if f, ok := toFloat(k.Value); ok && f < 0 {
				dir = -1
			}
			vi, _ := Lookup(docs[i], k.Key)
			vj, _ := Lookup(docs[j], k.Key)
			if c := Compare(vi, vj); c != 0 {
				return c*dir < 0
			}
		}
		return false
	})
}

func sortedKeys(m bson.M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
