package association

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
)

// NestedBuilder 嵌套属性赋值
type NestedBuilder interface {
	Build(ctx context.Context) error
}

// NestedBuilder 返回该关联的嵌套属性构建器
func (a *Association) NestedBuilder(base *document.Document, attrs any) NestedBuilder {
	if a.Many() {
		return &NestedMany{assoc: a, base: base, attrs: attrs}
	}
	m, _ := document.ToM(attrs)
	return &NestedOne{assoc: a, base: base, attrs: m}
}

// AssignNested 按嵌套属性更新、构建或删除关联目标
func AssignNested(ctx context.Context, d *document.Document, name string, attrs any) error {
	a, err := Of(d, name)
	if err != nil {
		return err
	}
	return a.NestedBuilder(d, attrs).Build(ctx)
}

// NestedOne 单值关联的嵌套属性
//
// 主键与现有目标一致时更新（"_destroy" 为真时移除），否则构建新目标替换。
type NestedOne struct {
	assoc *Association
	base  *document.Document
	attrs bson.M
}

func (n *NestedOne) Build(ctx context.Context) error {
	if n.attrs == nil {
		return nil
	}
	a, base := n.assoc, n.base
	current, err := cachedOne(withoutAutobuild(ctx), a, base)
	if err != nil {
		return err
	}
	destroy := destroyFlag(n.attrs)
	if id, ok := nestedID(n.attrs); ok && current != nil && current.target != nil &&
		document.EqualValues(current.target.ID(), targetID(current.target.Model(), id)) {
		if destroy {
			return Set(ctx, base, a.name, nil)
		}
		assignAttributes(current.target, n.attrs)
		return nil
	}
	if destroy {
		return nil
	}
	target, err := NewBuilder(a, base, stripNested(n.attrs)).Build(ctx)
	if err != nil {
		return err
	}
	return Set(ctx, base, a.name, target)
}

// NestedMany 集合关联的嵌套属性，接受属性列表或以序号为键的映射
type NestedMany struct {
	assoc *Association
	base  *document.Document
	attrs any
}

func (n *NestedMany) Build(ctx context.Context) error {
	entries, err := nestedEntries(n.attrs)
	if err != nil {
		return err
	}
	m, err := manyFor(n.base, n.assoc)
	if err != nil {
		return err
	}
	docs, err := m.All(ctx)
	if err != nil {
		return err
	}
	for _, attrs := range entries {
		id, ok := nestedID(attrs)
		if !ok {
			if destroyFlag(attrs) {
				continue
			}
			if _, err := m.Build(ctx, stripNested(attrs)); err != nil {
				return err
			}
			continue
		}
		existing := findByID(docs, id)
		if existing == nil {
			return errors.NewError(errors.ErrCodeNotFound,
				fmt.Sprintf("association: %s has no document with id %v", n.assoc, id)).
				WithDetails(map[string]any{"owner": n.assoc.owner.Name(), "relation": n.assoc.name})
		}
		if destroyFlag(attrs) {
			if _, err := m.Delete(ctx, existing); err != nil {
				return err
			}
			continue
		}
		assignAttributes(existing, attrs)
	}
	return nil
}

func nestedEntries(attrs any) ([]bson.M, error) {
	if attrs == nil {
		return nil, nil
	}
	if items, ok := document.ToSlice(attrs); ok {
		out := make([]bson.M, 0, len(items))
		for _, item := range items {
			m, ok := document.ToM(item)
			if !ok {
				return nil, errors.NewError(errors.ErrCodeInvalidInput,
					fmt.Sprintf("association: nested attributes entry must be a document, got %T", item))
			}
			out = append(out, m)
		}
		return out, nil
	}
	m, ok := document.ToM(attrs)
	if !ok {
		return nil, errors.NewError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("association: nested attributes must be a list or map, got %T", attrs))
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := cast.ToIntE(keys[i])
		b, errB := cast.ToIntE(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	out := make([]bson.M, 0, len(keys))
	for _, k := range keys {
		entry, ok := document.ToM(m[k])
		if !ok {
			return nil, errors.NewError(errors.ErrCodeInvalidInput,
				fmt.Sprintf("association: nested attributes entry %s must be a document", k))
		}
		out = append(out, entry)
	}
	return out, nil
}

func nestedID(attrs bson.M) (any, bool) {
	for _, k := range []string{"_id", "id"} {
		if v, ok := attrs[k]; ok && v != nil && v != "" {
			return v, true
		}
	}
	return nil, false
}

func destroyFlag(attrs bson.M) bool {
	v, ok := attrs["_destroy"]
	if !ok {
		return false
	}
	b, err := cast.ToBoolE(v)
	return err == nil && b
}

func stripNested(attrs bson.M) bson.M {
	out := make(bson.M, len(attrs))
	for k, v := range attrs {
		if k == "id" || k == "_destroy" {
			continue
		}
		out[k] = v
	}
	return out
}

func assignAttributes(d *document.Document, attrs bson.M) {
	for k, v := range attrs {
		switch k {
		case "_id", "id", "_destroy":
			continue
		}
		d.Set(k, v)
	}
}

// targetID 按目标模型的主键类型转换嵌套属性中的主键
func targetID(m *document.Model, id any) any {
	if f, ok := m.Field("_id"); ok {
		return f.Type.Mongoize(id)
	}
	return id
}

func findByID(docs []*document.Document, id any) *document.Document {
	for _, d := range docs {
		if document.EqualValues(d.ID(), targetID(d.Model(), id)) {
			return d
		}
	}
	return nil
}
