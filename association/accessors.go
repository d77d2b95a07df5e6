package association

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
	"docbind/logging"
)

// Of 返回文档所属模型上声明的关联
func Of(d *document.Document, name string) (*Association, error) {
	r, ok := d.Model().Relation(name)
	if !ok {
		return nil, errors.NewError(errors.ErrCodeConfiguration,
			fmt.Sprintf("association: %s has no relation %s", d.Model().Name(), name)).
			WithDetails(map[string]any{"owner": d.Model().Name(), "relation": name})
	}
	a, ok := r.(*Association)
	if !ok {
		return nil, errors.NewError(errors.ErrCodeConfiguration,
			fmt.Sprintf("association: %s#%s is not an association", d.Model().Name(), name))
	}
	return a, nil
}

func manyOf(d *document.Document, name string) (*Association, error) {
	a, err := Of(d, name)
	if err != nil {
		return nil, err
	}
	if !a.Many() {
		return nil, unsupportedError(a, "collection access")
	}
	return a, nil
}

func oneOf(d *document.Document, name string) (*Association, error) {
	a, err := Of(d, name)
	if err != nil {
		return nil, err
	}
	if a.Many() {
		return nil, unsupportedError(a, "single target access")
	}
	return a, nil
}

// Get 读取关联：单值关联返回 *document.Document（可能为 nil），集合关联返回 []*document.Document
func Get(ctx context.Context, d *document.Document, name string) (any, error) {
	a, err := Of(d, name)
	if err != nil {
		return nil, err
	}
	if a.Many() {
		m, err := manyFor(d, a)
		if err != nil {
			return nil, err
		}
		return m.All(ctx)
	}
	return LoadOne(ctx, d, name)
}

// LoadOne 读取单值关联目标；首次访问时加载并缓存，autobuild 时为空则构建
func LoadOne(ctx context.Context, d *document.Document, name string) (*document.Document, error) {
	p, err := OneProxy(ctx, d, name)
	if err != nil || p == nil {
		return nil, err
	}
	return p.target, nil
}

// OneProxy 返回单值关联代理，关联为空时返回 nil
func OneProxy(ctx context.Context, d *document.Document, name string) (*One, error) {
	a, err := oneOf(d, name)
	if err != nil {
		return nil, err
	}
	p, err := cachedOne(ctx, a, d)
	if err != nil {
		return nil, err
	}
	if p != nil || !a.Autobuild() || autobuildDisabled(ctx) {
		return p, nil
	}
	target, err := NewBuilder(a, d, nil).buildEmpty()
	if err != nil {
		return nil, err
	}
	return newOne(WithBuilding(ctx), a, d, target)
}

// cachedOne 命中缓存直接返回，否则加载
func cachedOne(ctx context.Context, a *Association, d *document.Document) (*One, error) {
	if cached, ok := d.Relation(a.name); ok {
		p, _ := cached.(*One)
		return p, nil
	}
	target, err := loadTarget(ctx, a, d)
	if err != nil {
		return nil, err
	}
	if target == nil {
		d.SetRelation(a.name, nil)
		return nil, nil
	}
	p := &One{base: d, target: target, assoc: a}
	d.SetRelation(a.name, p)
	if !a.Embedded() {
		if err := attachInverse(a, target, d); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// loadTarget 按宏加载单值目标；未找到返回 nil
func loadTarget(ctx context.Context, a *Association, d *document.Document) (*document.Document, error) {
	switch a.macro {
	case BelongsTo:
		key := d.Get(a.ForeignKey())
		if key == nil {
			return nil, nil
		}
		cls, err := a.classFor(d)
		if err != nil || cls == nil {
			return nil, err
		}
		return findFirst(ctx, a, cls, Criteria(a, key, nil))

	case HasOne:
		key := d.Get(a.PrimaryKey())
		if d.NewRecord() || key == nil {
			return nil, nil
		}
		cls, err := a.RelationClass()
		if err != nil {
			return nil, err
		}
		return findFirst(ctx, a, cls, Criteria(a, a.ConvertToForeignKey(key), d.Model()))

	case EmbedsOne:
		return embeddedOne(d, a)

	case EmbeddedIn:
		return d.Parent(), nil
	}
	return nil, nil
}

func findFirst(ctx context.Context, a *Association, cls *document.Model, filter bson.D) (*document.Document, error) {
	docs, err := document.Find(ctx, cls, filter, document.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	a.owner.Registry().Logger().Debug(ctx, "relation loaded", loggingFields(a, len(docs))...)
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// LoadMany 返回集合关联代理（未加载的 has_many 在首次枚举时查询）
func LoadMany(ctx context.Context, d *document.Document, name string) (*Many, error) {
	a, err := manyOf(d, name)
	if err != nil {
		return nil, err
	}
	return manyFor(d, a)
}

// All 枚举集合关联的全部目标
func All(ctx context.Context, d *document.Document, name string) ([]*document.Document, error) {
	m, err := LoadMany(ctx, d, name)
	if err != nil {
		return nil, err
	}
	return m.All(ctx)
}

// Set 替换关联目标
//
// 单值关联接受 *document.Document、属性映射、主键或 nil；
// 集合关联接受 []*document.Document 或 nil。
func Set(ctx context.Context, d *document.Document, name string, value any) error {
	a, err := Of(d, name)
	if err != nil {
		return err
	}
	logger := d.Model().Registry().Logger()
	if a.Many() {
		var docs []*document.Document
		switch v := value.(type) {
		case nil:
		case []*document.Document:
			docs = v
		default:
			return errors.NewError(errors.ErrCodeInvalidInput,
				fmt.Sprintf("association: %s expects []*document.Document, got %T", a, value))
		}
		m, err := manyFor(d, a)
		if err != nil {
			return err
		}
		_, err = m.Substitute(ctx, docs)
		if err == nil {
			logger.Debug(ctx, "relation substituted", loggingFields(a, len(docs))...)
		}
		return err
	}

	target, err := NewBuilder(a, d, value).Build(ctx)
	if err != nil {
		return err
	}
	current, err := cachedOne(withoutAutobuild(ctx), a, d)
	if err != nil {
		return err
	}
	if current != nil {
		_, err = current.Substitute(ctx, target)
	} else if target != nil {
		_, err = newOne(ctx, a, d, target)
	}
	if err == nil {
		logger.Debug(ctx, "relation assigned", logging.Model(a.owner.Name()), logging.Relation(a.name),
			logging.Bool("empty", target == nil))
	}
	return err
}

// Exists 关联目标是否存在，不触发 autobuild
func Exists(ctx context.Context, d *document.Document, name string) (bool, error) {
	a, err := Of(d, name)
	if err != nil {
		return false, err
	}
	if a.Many() {
		m, err := manyFor(d, a)
		if err != nil {
			return false, err
		}
		n, err := m.Len(ctx)
		return n > 0, err
	}
	p, err := cachedOne(withoutAutobuild(ctx), a, d)
	return p != nil && p.target != nil, err
}

// Build 以 attrs 构建并绑定新目标，不持久化
func Build(ctx context.Context, d *document.Document, name string, attrs bson.M) (*document.Document, error) {
	a, err := Of(d, name)
	if err != nil {
		return nil, err
	}
	if a.Many() {
		m, err := manyFor(d, a)
		if err != nil {
			return nil, err
		}
		return m.Build(ctx, attrs)
	}
	if attrs == nil {
		attrs = bson.M{}
	}
	target, err := NewBuilder(a, d, attrs).Build(ctx)
	if err != nil {
		return nil, err
	}
	ctx = WithBuilding(ctx)
	current, err := cachedOne(withoutAutobuild(ctx), a, d)
	if err != nil {
		return nil, err
	}
	if current != nil {
		_, err = current.Substitute(ctx, target)
	} else {
		_, err = newOne(ctx, a, d, target)
	}
	if err != nil {
		return nil, err
	}
	return target, nil
}

// Create 构建并保存新目标；belongs_to 的 owner 尚未保存时一并保存
func Create(ctx context.Context, d *document.Document, name string, attrs bson.M) (*document.Document, error) {
	a, err := Of(d, name)
	if err != nil {
		return nil, err
	}
	if a.Many() {
		m, err := manyFor(d, a)
		if err != nil {
			return nil, err
		}
		return m.Create(ctx, attrs)
	}
	target, err := Build(ctx, d, name, attrs)
	if err != nil {
		return nil, err
	}
	if err := document.Save(ctx, target); err != nil {
		return nil, err
	}
	if a.StoresForeignKey() {
		// 父文档已有主键，重新写入外键
		setForeignKey(a, d, target)
		if d.NewRecord() {
			if err := document.Save(ctx, d); err != nil {
				return nil, err
			}
		}
	}
	return target, nil
}

// Nullify 解除关联并保存脱离的目标
func Nullify(ctx context.Context, d *document.Document, name string) error {
	a, err := Of(d, name)
	if err != nil {
		return err
	}
	if a.Many() {
		m, err := manyFor(d, a)
		if err != nil {
			return err
		}
		return m.Nullify(ctx)
	}
	p, err := cachedOne(withoutAutobuild(ctx), a, d)
	if err != nil {
		return err
	}
	if p == nil {
		p = &One{base: d, assoc: a}
	}
	return p.Nullify(ctx)
}

// Reload 丢弃缓存并重新加载关联
func Reload(ctx context.Context, d *document.Document, name string) (any, error) {
	a, err := Of(d, name)
	if err != nil {
		return nil, err
	}
	if a.Many() {
		m, err := manyFor(d, a)
		if err != nil {
			return nil, err
		}
		return m.Reload(ctx)
	}
	d.ClearRelation(name)
	return LoadOne(ctx, d, name)
}
