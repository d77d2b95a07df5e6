package association

import (
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/inflect"
)

// Association 关联元数据，声明后只读（反向关联解析结果会被缓存）
type Association struct {
	owner *document.Model
	macro Macro
	name  string
	opts  Options

	inverseOnce sync.Once
	inverseName string
	inverseErr  error
	// 多态关联按对端模型名缓存
	polyInverse sync.Map
}

type inverseResult struct {
	name string
	err  error
}

var _ document.IRelation = (*Association)(nil)

// New 创建关联元数据，并按宏的允许列表校验选项
func New(owner *document.Model, macro Macro, name string, opts ...Option) (*Association, error) {
	if !macro.Valid() {
		return nil, configurationError(owner, name, "unknown relation macro %d", int(macro))
	}
	if name == "" {
		return nil, configurationError(owner, name, "relation name must not be empty")
	}
	allowed := macro.variant().options
	a := &Association{owner: owner, macro: macro, name: name}
	a.opts.keys = make(map[OptionKey]bool)
	for _, opt := range opts {
		if !allowed[opt.key] {
			return nil, configurationError(owner, name, "invalid option %q for %s", opt.key, macro)
		}
		a.opts.keys[opt.key] = true
		opt.apply(&a.opts)
	}
	if a.opts.Optional && a.opts.Required {
		return nil, configurationError(owner, name, "optional and required are mutually exclusive")
	}
	if a.opts.Polymorphic && a.opts.ClassName != "" {
		return nil, configurationError(owner, name, "polymorphic relation cannot declare class_name")
	}
	return a, nil
}

// Name 关联名
func (a *Association) Name() string { return a.name }

// Macro 宏类型
func (a *Association) Macro() Macro { return a.macro }

// Owner 声明关联的模型
func (a *Association) Owner() *document.Model { return a.owner }

// Options 配置副本
func (a *Association) Options() Options { return a.opts }

// Embedded 是否为内嵌关联
func (a *Association) Embedded() bool { return a.macro.Embedded() }

// StoresForeignKey 外键是否保存在 owner 上
func (a *Association) StoresForeignKey() bool { return a.macro.StoresForeignKey() }

// Many 是否为集合关联
func (a *Association) Many() bool { return a.macro.Many() }

// Polymorphic belongs_to/embedded_in 的 polymorphic，或 has_*/embeds_* 的 as
func (a *Association) Polymorphic() bool {
	return a.opts.Polymorphic || a.opts.As != ""
}

// ValidateAssociated 保存时是否校验关联文档
func (a *Association) ValidateAssociated() bool {
	if a.opts.Validate != nil {
		return *a.opts.Validate
	}
	return a.macro.ValidationDefault()
}

// Autobuild 目标为空时是否自动构建
func (a *Association) Autobuild() bool { return a.opts.Autobuild }

// Autosave 保存 owner 时是否级联保存目标
func (a *Association) Autosave() bool { return a.opts.Autosave }

// Dependent 删除策略
func (a *Association) Dependent() Dependency { return a.opts.Dependent }

// Destructive 删除策略是否会删除目标文档
func (a *Association) Destructive() bool {
	return a.opts.Dependent == DependentDestroy || a.opts.Dependent == DependentDelete
}

// Cyclic 是否允许循环内嵌
func (a *Association) Cyclic() bool { return a.opts.Cyclic }

// CascadeCallbacks 是否级联内嵌保存回调
func (a *Association) CascadeCallbacks() bool { return a.opts.CascadeCallbacks }

// Order 集合加载排序
func (a *Association) Order() bson.D { return a.opts.Order }

// As 多态角色名
func (a *Association) As() string { return a.opts.As }

// className 关联目标类名，多态 belongs_to/embedded_in 为空
func (a *Association) className() string {
	if a.opts.ClassName != "" {
		return a.opts.ClassName
	}
	if a.opts.Polymorphic {
		return ""
	}
	if a.macro.Many() {
		return inflect.Classify(a.name)
	}
	return inflect.Camelize(a.name)
}

// ClassName 关联目标类名
func (a *Association) ClassName() string { return a.className() }

// RelationClass 解析关联目标模型；多态关联没有静态目标
func (a *Association) RelationClass() (*document.Model, error) {
	name := a.className()
	if name == "" {
		return nil, configurationError(a.owner, a.name, "polymorphic relation has no static class")
	}
	reg := a.owner.Registry()
	if reg == nil {
		return nil, configurationError(a.owner, a.name, "owner model is not registered")
	}
	m, ok := reg.Model(name)
	if !ok {
		return nil, configurationError(a.owner, a.name, "class %s is not registered", name)
	}
	return m, nil
}

// classFor 多态 belongs_to 按类型字段值解析目标模型
func (a *Association) classFor(base *document.Document) (*document.Model, error) {
	if !a.opts.Polymorphic || a.macro != BelongsTo {
		return a.RelationClass()
	}
	typeName, _ := base.Get(a.InverseTypeField()).(string)
	if typeName == "" {
		return nil, nil
	}
	m, ok := a.owner.Registry().Model(typeName)
	if !ok {
		return nil, configurationError(a.owner, a.name, "polymorphic type %s is not registered", typeName)
	}
	return m, nil
}

// PrimaryKey 被引用一侧的主键字段
func (a *Association) PrimaryKey() string {
	if a.opts.PrimaryKey != "" {
		return a.opts.PrimaryKey
	}
	return "_id"
}

// ForeignKey 外键字段名
//
// belongs_to 外键在 owner 上为 "<name>_id"；has_one/has_many 外键在目标上，
// 依次取 as、inverse_of，最后取 owner 类名。
func (a *Association) ForeignKey() string {
	if a.opts.ForeignKey != "" {
		return a.opts.ForeignKey
	}
	switch a.macro {
	case BelongsTo:
		return ForeignKeyName(a.name, false)
	case HasOne, HasMany:
		switch {
		case a.opts.As != "":
			return ForeignKeyName(a.opts.As, false)
		case a.opts.InverseOf != "":
			return ForeignKeyName(a.opts.InverseOf, false)
		default:
			return ForeignKeyName(inflect.Underscore(a.owner.Name()), false)
		}
	default:
		return ""
	}
}

// ForeignKeyName 按约定派生外键名：单值为 "<name>_id"，多值为 "<单数name>_ids"
func ForeignKeyName(name string, many bool) string {
	if many {
		return inflect.Singularize(name) + "_ids"
	}
	return name + "_id"
}

// InverseTypeField 多态 belongs_to 的类型字段 "<name>_type"
func (a *Association) InverseTypeField() string {
	return a.name + "_type"
}

// TypeField has_one/has_many 多态时目标上的类型字段 "<as>_type"
func (a *Association) TypeField() string {
	if a.opts.As == "" {
		return ""
	}
	return a.opts.As + "_type"
}

// Key 原始数据在 owner 文档中的键
func (a *Association) Key() string {
	switch a.macro {
	case EmbedsOne, EmbedsMany:
		if a.opts.StoreAs != "" {
			return a.opts.StoreAs
		}
		return a.name
	case BelongsTo:
		return a.ForeignKey()
	case HasOne, HasMany:
		return a.PrimaryKey()
	default:
		return a.name
	}
}

// RequireAssociation belongs_to 是否必填
func (a *Association) RequireAssociation() bool {
	if a.macro != BelongsTo {
		return false
	}
	switch {
	case a.opts.Required:
		return true
	case a.opts.Optional:
		return false
	}
	if reg := a.owner.Registry(); reg != nil {
		return reg.Config().BelongsToRequiredByDefault
	}
	return true
}

// CounterCacheField 计数字段，未启用时为空
func (a *Association) CounterCacheField() string {
	if !a.opts.CounterCacheSet {
		return ""
	}
	if a.opts.CounterCache != "" {
		return a.opts.CounterCache
	}
	return inflect.Pluralize(inflect.Underscore(a.owner.Name())) + "_count"
}

// TouchField 额外更新的时间字段
func (a *Association) TouchField() string { return a.opts.TouchField }

// Touchable 是否启用 touch
func (a *Association) Touchable() bool { return a.opts.Touch }

func (a *Association) String() string {
	return a.owner.Name() + "#" + a.name + " (" + a.macro.String() + ")"
}
