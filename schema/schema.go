// Package schema 两阶段声明模型与关联：先声明，再由 Build 统一完成注册、
// 关联安装与校验，完成后模型只读。
package schema

import (
	"context"
	"fmt"
	"time"

	"docbind/association"
	"docbind/document"
	"docbind/errors"
	"docbind/logging"
)

// Option schema 配置选项
type Option func(*document.Config)

// WithConfig 整体替换配置
func WithConfig(cfg document.Config) Option {
	return func(c *document.Config) { *c = cfg }
}

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(c *document.Config) { c.Logger = l }
}

// WithBelongsToRequired belongs_to 默认是否必填
func WithBelongsToRequired(v bool) Option {
	return func(c *document.Config) { c.BelongsToRequiredByDefault = v }
}

// WithClock 设置 touch 使用的时钟
func WithClock(now func() time.Time) Option {
	return func(c *document.Config) { c.Now = now }
}

type relationDecl struct {
	macro association.Macro
	name  string
	opts  []association.Option
}

// ModelDecl 单个模型的声明
type ModelDecl struct {
	model      *document.Model
	fields     []document.Field
	indexes    []document.Index
	relations  []relationDecl
	hooks      []hookDecl
	validators []document.Validator
}

type hookDecl struct {
	kind document.HookKind
	hook document.Hook
}

// Schema 声明集合
type Schema struct {
	db     document.IDatabase
	cfg    document.Config
	models []*ModelDecl
	names  map[string]*ModelDecl
	built  *document.Registry
}

// New 创建 schema
func New(db document.IDatabase, opts ...Option) *Schema {
	cfg := document.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Schema{db: db, cfg: cfg, names: make(map[string]*ModelDecl)}
}

// Model 声明模型；同名模型返回已有声明
func (s *Schema) Model(name string, opts ...document.ModelOption) *ModelDecl {
	if d, ok := s.names[name]; ok {
		return d
	}
	d := &ModelDecl{model: document.NewModel(name, opts...)}
	s.models = append(s.models, d)
	s.names[name] = d
	return d
}

// Model 声明中的模型，Build 完成前不可用于持久化
func (d *ModelDecl) Model() *document.Model { return d.model }

// Field 声明字段
func (d *ModelDecl) Field(name string, t document.FieldType) *ModelDecl {
	d.fields = append(d.fields, document.Field{Name: name, Type: t})
	return d
}

// FieldWithDefault 声明带默认值的字段
func (d *ModelDecl) FieldWithDefault(name string, t document.FieldType, def any) *ModelDecl {
	d.fields = append(d.fields, document.Field{Name: name, Type: t, Default: def})
	return d
}

// Index 声明索引意图
func (d *ModelDecl) Index(idx document.Index) *ModelDecl {
	d.indexes = append(d.indexes, idx)
	return d
}

// Hook 注册生命周期回调
func (d *ModelDecl) Hook(kind document.HookKind, h document.Hook) *ModelDecl {
	d.hooks = append(d.hooks, hookDecl{kind: kind, hook: h})
	return d
}

// Validate 注册校验器
func (d *ModelDecl) Validate(v document.Validator) *ModelDecl {
	d.validators = append(d.validators, v)
	return d
}

func (d *ModelDecl) relation(macro association.Macro, name string, opts []association.Option) *ModelDecl {
	d.relations = append(d.relations, relationDecl{macro: macro, name: name, opts: opts})
	return d
}

func (d *ModelDecl) BelongsTo(name string, opts ...association.Option) *ModelDecl {
	return d.relation(association.BelongsTo, name, opts)
}

func (d *ModelDecl) HasOne(name string, opts ...association.Option) *ModelDecl {
	return d.relation(association.HasOne, name, opts)
}

func (d *ModelDecl) HasMany(name string, opts ...association.Option) *ModelDecl {
	return d.relation(association.HasMany, name, opts)
}

func (d *ModelDecl) EmbedsOne(name string, opts ...association.Option) *ModelDecl {
	return d.relation(association.EmbedsOne, name, opts)
}

func (d *ModelDecl) EmbedsMany(name string, opts ...association.Option) *ModelDecl {
	return d.relation(association.EmbedsMany, name, opts)
}

func (d *ModelDecl) EmbeddedIn(name string, opts ...association.Option) *ModelDecl {
	return d.relation(association.EmbeddedIn, name, opts)
}

// Build 完成声明
//
// 依次：注册模型与字段；创建关联元数据；安装关联字段与回调；
// 解析目标类与反向关联（歧义在此报错）；冻结注册表。任一步失败即返回。
func (s *Schema) Build() (*document.Registry, error) {
	if s.built != nil {
		return s.built, nil
	}
	reg := document.NewRegistry(s.db, s.cfg)
	logger := reg.Logger()

	for _, d := range s.models {
		if err := reg.Register(d.model); err != nil {
			return nil, err
		}
		for _, f := range d.fields {
			if err := d.model.DeclareField(f); err != nil {
				return nil, err
			}
		}
		for _, idx := range d.indexes {
			d.model.DeclareIndex(idx)
		}
	}

	var assocs []*association.Association
	for _, d := range s.models {
		for _, r := range d.relations {
			a, err := association.New(d.model, r.macro, r.name, r.opts...)
			if err != nil {
				return nil, err
			}
			if err := d.model.AddRelation(a); err != nil {
				return nil, errors.WrapError(err, errors.ErrCodeConfiguration,
					fmt.Sprintf("schema: %s#%s", d.model.Name(), r.name))
			}
			assocs = append(assocs, a)
		}
	}

	for _, a := range assocs {
		if err := association.Setup(a); err != nil {
			return nil, err
		}
	}
	for _, d := range s.models {
		for _, h := range d.hooks {
			d.model.AddHook(h.kind, h.hook)
		}
		for _, v := range d.validators {
			d.model.AddValidator(v)
		}
	}
	for _, a := range assocs {
		if err := association.Verify(a); err != nil {
			return nil, err
		}
	}

	reg.Freeze()
	logger.Info(context.Background(), "schema built", logging.Int("models", len(s.models)), logging.Int("relations", len(assocs)))
	s.built = reg
	return reg, nil
}

// MustBuild Build 失败时 panic，用于包级初始化
func (s *Schema) MustBuild() *document.Registry {
	reg, err := s.Build()
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return reg
}
