package association

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
)

// OptionKey 关联选项键
type OptionKey string

const (
	OptClassName        OptionKey = "class_name"
	OptInverseOf        OptionKey = "inverse_of"
	OptValidate         OptionKey = "validate"
	OptAutobuild        OptionKey = "autobuild"
	OptAutosave         OptionKey = "autosave"
	OptCounterCache     OptionKey = "counter_cache"
	OptDependent        OptionKey = "dependent"
	OptForeignKey       OptionKey = "foreign_key"
	OptIndex            OptionKey = "index"
	OptPolymorphic      OptionKey = "polymorphic"
	OptPrimaryKey       OptionKey = "primary_key"
	OptTouch            OptionKey = "touch"
	OptOptional         OptionKey = "optional"
	OptRequired         OptionKey = "required"
	OptAs               OptionKey = "as"
	OptOrder            OptionKey = "order"
	OptBeforeAdd        OptionKey = "before_add"
	OptAfterAdd         OptionKey = "after_add"
	OptBeforeRemove     OptionKey = "before_remove"
	OptAfterRemove      OptionKey = "after_remove"
	OptCascadeCallbacks OptionKey = "cascade_callbacks"
	OptCyclic           OptionKey = "cyclic"
	OptStoreAs          OptionKey = "store_as"
)

// Dependency 删除 owner 时对关联文档的处理方式
type Dependency int

const (
	DependentNone Dependency = iota
	// DependentDestroy 逐个销毁并运行回调
	DependentDestroy
	// DependentDelete 直接删除，不运行回调
	DependentDelete
	// DependentNullify 清空外键后保存
	DependentNullify
	// DependentRestrict 存在关联文档时拒绝删除
	DependentRestrict
)

func (d Dependency) String() string {
	switch d {
	case DependentDestroy:
		return "destroy"
	case DependentDelete:
		return "delete_all"
	case DependentNullify:
		return "nullify"
	case DependentRestrict:
		return "restrict_with_error"
	default:
		return "none"
	}
}

// Callback 集合增删回调，返回错误时中止操作
type Callback func(ctx context.Context, base, doc *document.Document) error

// Option 关联选项
type Option struct {
	key   OptionKey
	apply func(*Options)
}

// Key 选项键
func (o Option) Key() OptionKey { return o.key }

// RawOption 构造任意键的选项，未在宏的允许列表中的键会在声明时被拒绝
func RawOption(key OptionKey, apply func(*Options)) Option {
	if apply == nil {
		apply = func(*Options) {}
	}
	return Option{key: key, apply: apply}
}

// Options 已解析的关联配置
type Options struct {
	ClassName        string
	InverseOf        string
	NoInverse        bool
	Validate         *bool
	Autobuild        bool
	Autosave         bool
	CounterCache     string
	CounterCacheSet  bool
	Dependent        Dependency
	ForeignKey       string
	Index            bool
	Polymorphic      bool
	PrimaryKey       string
	Touch            bool
	TouchField       string
	Optional         bool
	Required         bool
	As               string
	Order            bson.D
	BeforeAdd        []Callback
	AfterAdd         []Callback
	BeforeRemove     []Callback
	AfterRemove      []Callback
	CascadeCallbacks bool
	Cyclic           bool
	StoreAs          string

	keys map[OptionKey]bool
}

// Has 是否显式设置了某个选项
func (o Options) Has(key OptionKey) bool { return o.keys[key] }

func ClassName(name string) Option {
	return Option{OptClassName, func(o *Options) { o.ClassName = name }}
}

// InverseOf 显式指定反向关联名
func InverseOf(name string) Option {
	return Option{OptInverseOf, func(o *Options) { o.InverseOf, o.NoInverse = name, false }}
}

// NoInverse 声明关联没有反向关联（inverse_of: nil）
func NoInverse() Option {
	return Option{OptInverseOf, func(o *Options) { o.InverseOf, o.NoInverse = "", true }}
}

func Validate(v bool) Option {
	return Option{OptValidate, func(o *Options) { o.Validate = &v }}
}

func Autobuild() Option {
	return Option{OptAutobuild, func(o *Options) { o.Autobuild = true }}
}

func Autosave() Option {
	return Option{OptAutosave, func(o *Options) { o.Autosave = true }}
}

// CounterCache 维护父文档上的计数字段，field 为空时使用 "<owner复数>_count"
func CounterCache(field string) Option {
	return Option{OptCounterCache, func(o *Options) { o.CounterCache, o.CounterCacheSet = field, true }}
}

func Dependent(d Dependency) Option {
	return Option{OptDependent, func(o *Options) { o.Dependent = d }}
}

func ForeignKey(field string) Option {
	return Option{OptForeignKey, func(o *Options) { o.ForeignKey = field }}
}

// Index 为外键字段声明索引
func Index() Option {
	return Option{OptIndex, func(o *Options) { o.Index = true }}
}

func Polymorphic() Option {
	return Option{OptPolymorphic, func(o *Options) { o.Polymorphic = true }}
}

func PrimaryKey(field string) Option {
	return Option{OptPrimaryKey, func(o *Options) { o.PrimaryKey = field }}
}

// Touch 保存时更新父文档的 updated_at
func Touch() Option {
	return Option{OptTouch, func(o *Options) { o.Touch = true }}
}

// TouchField 保存时同时更新父文档 updated_at 与指定字段
func TouchField(field string) Option {
	return Option{OptTouch, func(o *Options) { o.Touch, o.TouchField = true, field }}
}

func Optional() Option {
	return Option{OptOptional, func(o *Options) { o.Optional = true }}
}

func Required() Option {
	return Option{OptRequired, func(o *Options) { o.Required = true }}
}

// As 多态角色名
func As(role string) Option {
	return Option{OptAs, func(o *Options) { o.As = role }}
}

func Order(sort bson.D) Option {
	return Option{OptOrder, func(o *Options) { o.Order = sort }}
}

func BeforeAdd(cb Callback) Option {
	return Option{OptBeforeAdd, func(o *Options) { o.BeforeAdd = append(o.BeforeAdd, cb) }}
}

func AfterAdd(cb Callback) Option {
	return Option{OptAfterAdd, func(o *Options) { o.AfterAdd = append(o.AfterAdd, cb) }}
}

func BeforeRemove(cb Callback) Option {
	return Option{OptBeforeRemove, func(o *Options) { o.BeforeRemove = append(o.BeforeRemove, cb) }}
}

func AfterRemove(cb Callback) Option {
	return Option{OptAfterRemove, func(o *Options) { o.AfterRemove = append(o.AfterRemove, cb) }}
}

// CascadeCallbacks 保存父文档时运行内嵌文档的保存回调
func CascadeCallbacks() Option {
	return Option{OptCascadeCallbacks, func(o *Options) { o.CascadeCallbacks = true }}
}

func Cyclic() Option {
	return Option{OptCyclic, func(o *Options) { o.Cyclic = true }}
}

// StoreAs 内嵌数据在父文档中的存储键
func StoreAs(key string) Option {
	return Option{OptStoreAs, func(o *Options) { o.StoreAs = key }}
}

func runCallbacks(ctx context.Context, cbs []Callback, base, doc *document.Document) error {
	for _, cb := range cbs {
		if err := cb(ctx, base, doc); err != nil {
			return err
		}
	}
	return nil
}
