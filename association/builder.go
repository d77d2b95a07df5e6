package association

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
)

// Builder 由已有文档、属性或主键构建关联目标，从不持久化
type Builder struct {
	assoc  *Association
	base   *document.Document
	object any
	typ    *document.Model
}

// NewBuilder 创建构建器
func NewBuilder(a *Association, base *document.Document, object any) *Builder {
	return &Builder{assoc: a, base: base, object: object}
}

// Builder 返回该关联的构建器
func (a *Association) Builder(base *document.Document, object any) *Builder {
	return NewBuilder(a, base, object)
}

// WithType 指定目标模型，多态关联以属性构建时使用
func (b *Builder) WithType(m *document.Model) *Builder {
	b.typ = m
	return b
}

// Build 构建目标
//
// nil 返回 nil；类型匹配的文档原样返回；属性映射构建新文档；
// belongs_to/has_one 的其他值视为目标主键并查询，不存在时返回 nil。
func (b *Builder) Build(ctx context.Context) (*document.Document, error) {
	switch v := b.object.(type) {
	case nil:
		return nil, nil
	case *document.Document:
		if v == nil {
			return nil, nil
		}
		return v, b.checkType(v)
	case bson.M, map[string]any, bson.D:
		attrs, _ := document.ToM(v)
		cls, err := b.class(attrs)
		if err != nil {
			return nil, err
		}
		return document.New(cls, attrs), nil
	}

	a := b.assoc
	if a.Embedded() || a.Many() {
		return nil, errors.NewError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("association: cannot build %s from %T", a, b.object)).
			WithDetails(map[string]any{"owner": a.owner.Name(), "relation": a.name})
	}
	cls, err := b.class(nil)
	if err != nil {
		return nil, err
	}
	d, err := document.FindByID(ctx, cls, a.ConvertToForeignKey(b.object))
	if errors.IsNotFound(err) {
		return nil, nil
	}
	return d, err
}

// buildEmpty autobuild 时构建空目标
func (b *Builder) buildEmpty() (*document.Document, error) {
	cls, err := b.class(nil)
	if err != nil {
		return nil, err
	}
	return document.New(cls, nil), nil
}

// class 目标模型：显式类型、属性中的 "_type"、关联目标类依次尝试
func (b *Builder) class(attrs bson.M) (*document.Model, error) {
	if b.typ != nil {
		return b.typ, nil
	}
	reg := b.assoc.owner.Registry()
	if typeName, ok := attrs["_type"].(string); ok && typeName != "" && reg != nil {
		if m, ok := reg.Model(typeName); ok {
			return m, nil
		}
		return nil, configurationError(b.assoc.owner, b.assoc.name, "type %s is not registered", typeName)
	}
	if b.base != nil {
		if cls, err := b.assoc.classFor(b.base); err != nil || cls != nil {
			return cls, err
		}
	}
	return b.assoc.RelationClass()
}

// checkType 多态关联接受任意模型，其余要求与目标类一致
func (b *Builder) checkType(d *document.Document) error {
	a := b.assoc
	if a.opts.Polymorphic {
		return nil
	}
	cls, err := a.RelationClass()
	if err != nil {
		return err
	}
	if d.Model() == cls {
		return nil
	}
	// 内嵌子类型通过 "_type" 记录，允许
	if typeName, _ := d.Get("_type").(string); typeName == d.Model().Name() && a.Embedded() {
		return nil
	}
	return errors.NewError(errors.ErrCodeInvalidInput,
		fmt.Sprintf("association: %s expects %s, got %s", a, cls.Name(), d.Model().Name())).
		WithDetails(map[string]any{"owner": a.owner.Name(), "relation": a.name})
}
