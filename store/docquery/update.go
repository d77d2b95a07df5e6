package docquery

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
)

// ApplyUpdate 对文档原地执行 $set / $unset / $inc
func ApplyUpdate(doc bson.M, update bson.M) error {
	for _, op := range sortedKeys(update) {
		fields, ok := document.ToM(update[op])
		if !ok {
			return fmt.Errorf("docquery: %s requires a document", op)
		}
		switch op {
		case "$set":
			for k, v := range fields {
				setPath(doc, k, v)
			}
		case "$unset":
			for k := range fields {
				unsetPath(doc, k)
			}
		case "$inc":
			for k, v := range fields {
				cur, _ := Lookup(doc, k)
				sum, err := increment(cur, v)
				if err != nil {
					return err
				}
				setPath(doc, k, sum)
			}
		default:
			return unsupported(op)
		}
	}
	return nil
}

func increment(cur, delta any) (any, error) {
	if cur == nil {
		cur = int64(0)
	}
	ci, cInt := toInt(cur)
	di, dInt := toInt(delta)
	if cInt && dInt {
		return ci + di, nil
	}
	cf, ok1 := toFloat(cur)
	df, ok2 := toFloat(delta)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("docquery: cannot $inc non-numeric value %v", cur)
	}
	return cf + df, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func setPath(doc bson.M, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := document.ToM(cur[p])
		if !ok {
			next = bson.M{}
		}
		cur[p] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func unsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(bson.M)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}
