// Package association 实现文档之间的关联：元数据、绑定、代理、构建器与生命周期钩子
package association

// Macro 关联宏类型
type Macro int

const (
	BelongsTo Macro = iota + 1
	HasOne
	HasMany
	EmbedsOne
	EmbedsMany
	EmbeddedIn
)

// variant 每种宏的静态特性
type variant struct {
	name            string
	embedded        bool
	storesFK        bool
	validateDefault bool
	many            bool
	complements     []Macro
	options         map[OptionKey]bool
}

func allow(keys ...OptionKey) map[OptionKey]bool {
	out := map[OptionKey]bool{
		OptClassName: true,
		OptInverseOf: true,
		OptValidate:  true,
	}
	for _, k := range keys {
		out[k] = true
	}
	return out
}

var variants = map[Macro]variant{
	BelongsTo: {
		name:            "belongs_to",
		storesFK:        true,
		validateDefault: false,
		complements:     []Macro{HasMany, HasOne},
		options: allow(OptAutobuild, OptAutosave, OptCounterCache, OptDependent, OptForeignKey,
			OptIndex, OptPolymorphic, OptPrimaryKey, OptTouch, OptOptional, OptRequired),
	},
	HasOne: {
		name:            "has_one",
		validateDefault: true,
		complements:     []Macro{BelongsTo},
		options:         allow(OptAs, OptAutobuild, OptAutosave, OptDependent, OptForeignKey, OptPrimaryKey),
	},
	HasMany: {
		name:            "has_many",
		validateDefault: true,
		many:            true,
		complements:     []Macro{BelongsTo},
		options: allow(OptAs, OptAutosave, OptDependent, OptForeignKey, OptOrder, OptPrimaryKey,
			OptBeforeAdd, OptAfterAdd, OptBeforeRemove, OptAfterRemove),
	},
	EmbedsOne: {
		name:            "embeds_one",
		embedded:        true,
		validateDefault: true,
		complements:     []Macro{EmbeddedIn},
		options:         allow(OptAutobuild, OptAs, OptCascadeCallbacks, OptCyclic, OptStoreAs),
	},
	EmbedsMany: {
		name:            "embeds_many",
		embedded:        true,
		validateDefault: true,
		many:            true,
		complements:     []Macro{EmbeddedIn},
		options: allow(OptAs, OptCascadeCallbacks, OptCyclic, OptOrder, OptStoreAs,
			OptBeforeAdd, OptAfterAdd, OptBeforeRemove, OptAfterRemove),
	},
	EmbeddedIn: {
		name:            "embedded_in",
		embedded:        true,
		validateDefault: false,
		complements:     []Macro{EmbedsOne, EmbedsMany},
		options:         allow(OptAutobuild, OptCyclic, OptPolymorphic, OptTouch, OptCounterCache),
	},
}

func (m Macro) variant() variant { return variants[m] }

// String 返回宏名，如 "has_many"
func (m Macro) String() string {
	if v, ok := variants[m]; ok {
		return v.name
	}
	return "unknown"
}

// Valid 是否为已知宏
func (m Macro) Valid() bool {
	_, ok := variants[m]
	return ok
}

// Embedded 是否为内嵌关联
func (m Macro) Embedded() bool { return m.variant().embedded }

// StoresForeignKey 外键是否保存在 owner 一侧
func (m Macro) StoresForeignKey() bool { return m.variant().storesFK }

// Many 目标是否为有序集合
func (m Macro) Many() bool { return m.variant().many }

// ValidationDefault 未声明 Validate 选项时是否校验关联文档
func (m Macro) ValidationDefault() bool { return m.variant().validateDefault }

// Complements 可作为反向关联的宏集合
func (m Macro) Complements() []Macro { return m.variant().complements }

func (m Macro) complementOf(other Macro) bool {
	for _, c := range m.variant().complements {
		if c == other {
			return true
		}
	}
	return false
}
