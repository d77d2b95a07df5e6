package association

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
	"docbind/logging"
)

// EagerLoader 批量加载一组文档的同一关联，避免逐个查询
type EagerLoader struct {
	assoc *Association
	docs  []*document.Document
}

// NewEagerLoader 创建批量加载器
func NewEagerLoader(a *Association, docs []*document.Document) *EagerLoader {
	return &EagerLoader{assoc: a, docs: docs}
}

// EagerLoader 返回该关联的批量加载器
func (a *Association) EagerLoader(docs []*document.Document) *EagerLoader {
	return NewEagerLoader(a, docs)
}

// Run 执行加载并写入每个文档的关联缓存
func (l *EagerLoader) Run(ctx context.Context) error {
	if len(l.docs) == 0 {
		return nil
	}
	switch l.assoc.macro {
	case BelongsTo:
		return l.loadBelongsTo(ctx)
	case HasOne, HasMany:
		return l.loadHas(ctx)
	default:
		// 内嵌关联随父文档读取
		return nil
	}
}

// loadBelongsTo 按目标模型分组（多态按类型字段），每组一次 $in 查询
func (l *EagerLoader) loadBelongsTo(ctx context.Context) error {
	a := l.assoc
	type group struct {
		cls  *document.Model
		keys bson.A
		docs []*document.Document
	}
	groups := make(map[string]*group)
	var order []string
	for _, d := range l.docs {
		key := d.Get(a.ForeignKey())
		if key == nil {
			d.SetRelation(a.name, nil)
			continue
		}
		cls, err := a.classFor(d)
		if err != nil {
			return err
		}
		if cls == nil {
			d.SetRelation(a.name, nil)
			continue
		}
		g, ok := groups[cls.Name()]
		if !ok {
			g = &group{cls: cls}
			groups[cls.Name()] = g
			order = append(order, cls.Name())
		}
		g.keys = append(g.keys, key)
		g.docs = append(g.docs, d)
	}

	for _, name := range order {
		g := groups[name]
		filter := bson.D{{Key: a.PrimaryKey(), Value: bson.D{{Key: "$in", Value: g.keys}}}}
		found, err := document.Find(ctx, g.cls, filter, document.FindOptions{})
		if err != nil {
			return err
		}
		byKey := make(map[string]*document.Document, len(found))
		for _, f := range found {
			byKey[keyOf(f.Get(a.PrimaryKey()))] = f
		}
		for _, d := range g.docs {
			target := byKey[keyOf(d.Get(a.ForeignKey()))]
			if target == nil {
				d.SetRelation(a.name, nil)
				continue
			}
			d.SetRelation(a.name, &One{base: d, target: target, assoc: a})
			if err := attachInverse(a, target, d); err != nil {
				return err
			}
		}
		l.log(ctx, len(found))
	}
	return nil
}

// loadHas 一次 $in 查询加载全部目标，再按外键分发
func (l *EagerLoader) loadHas(ctx context.Context) error {
	a := l.assoc
	cls, err := a.RelationClass()
	if err != nil {
		return err
	}
	var keys bson.A
	var owners []*document.Document
	for _, d := range l.docs {
		if d.NewRecord() || d.Get(a.PrimaryKey()) == nil {
			continue
		}
		keys = append(keys, a.ConvertToForeignKey(d.Get(a.PrimaryKey())))
		owners = append(owners, d)
	}
	if len(owners) == 0 {
		return nil
	}
	filter := Criteria(a, []any(keys), owners[0].Model())
	found, err := document.Find(ctx, cls, filter, document.FindOptions{Sort: a.Order()})
	if err != nil {
		return err
	}
	grouped := make(map[string][]*document.Document)
	for _, f := range found {
		k := keyOf(f.Get(a.ForeignKey()))
		grouped[k] = append(grouped[k], f)
	}
	for _, d := range owners {
		if err := AttachLoaded(d, a, grouped[keyOf(a.ConvertToForeignKey(d.Get(a.PrimaryKey())))]); err != nil {
			return err
		}
	}
	l.log(ctx, len(found))
	return nil
}

func (l *EagerLoader) log(ctx context.Context, n int) {
	l.assoc.owner.Registry().Logger().Debug(ctx, "relation eager loaded",
		append(loggingFields(l.assoc, n), logging.Int("documents", len(l.docs)))...)
}

// AttachLoaded 将已加载的目标写入 base 的关联缓存并设置反向引用
//
// 集合关联合并 base 上尚未持久化的已追加文档。
func AttachLoaded(base *document.Document, a *Association, targets []*document.Document) error {
	inv, err := a.InverseAssociation(nil)
	if a.opts.Polymorphic || a.Embedded() {
		inv, err = nil, nil
	}
	if err != nil {
		return err
	}
	for _, t := range targets {
		if inv != nil {
			if inv.Many() {
				m, err := manyFor(t, inv)
				if err != nil {
					return err
				}
				m.attach(base)
			} else {
				t.SetRelation(inv.name, &One{base: t, target: base, assoc: inv})
			}
		}
	}

	if a.Many() {
		m := &Many{base: base, assoc: a, loaded: true, docs: append([]*document.Document(nil), targets...)}
		if cached, ok := base.Relation(a.name); ok {
			if prev, ok := cached.(*Many); ok && prev != nil {
				for _, d := range prev.docs {
					m.attach(d)
				}
			}
		}
		base.SetRelation(a.name, m)
		return nil
	}
	if len(targets) == 0 {
		base.SetRelation(a.name, nil)
		return nil
	}
	base.SetRelation(a.name, &One{base: base, target: targets[0], assoc: a})
	return nil
}

// Includes 为 docs 预加载多个关联；docs 须属于同一模型
func Includes(ctx context.Context, docs []*document.Document, names ...string) error {
	if len(docs) == 0 {
		return nil
	}
	m := docs[0].Model()
	for _, d := range docs[1:] {
		if d.Model() != m {
			return errors.NewError(errors.ErrCodeInvalidInput,
				fmt.Sprintf("association: includes expects %s documents, got %s", m.Name(), d.Model().Name()))
		}
	}
	for _, name := range names {
		a, err := Of(docs[0], name)
		if err != nil {
			return err
		}
		if err := NewEagerLoader(a, docs).Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// keyOf 外键比较用的规范化键
func keyOf(v any) string {
	v = document.Normalize(v)
	switch k := v.(type) {
	case bson.ObjectID:
		return "oid:" + k.Hex()
	case int, int32, int64:
		return fmt.Sprintf("int:%d", k)
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
