package document

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/errors"
	"docbind/idgen"
)

// IDType 主键类型
type IDType int

const (
	// IDObjectID 使用 BSON ObjectID（默认）
	IDObjectID IDType = iota
	// IDString 使用 UUID 字符串
	IDString
	// IDInt64 使用雪花算法 int64
	IDInt64
)

// HookKind 生命周期回调类型
type HookKind int

const (
	BeforeSave HookKind = iota
	AfterSave
	AfterCreate
	AfterUpdate
	BeforeDestroy
	AfterDestroy
)

// Hook 生命周期回调
type Hook func(ctx context.Context, d *Document) error

// Validator 文档校验器，返回的错误消息汇总进校验错误
type Validator func(ctx context.Context, d *Document) error

// Serializer 在保存前将内嵌文档写入 raw，返回被写入的内嵌文档
type Serializer func(d *Document, raw bson.M) ([]*Document, error)

// Index 索引声明（仅记录意图，不负责创建）
type Index struct {
	Keys   bson.D
	Sparse bool
}

// IRelation 模型上声明的关联，具体实现由 association 包提供
type IRelation interface {
	Name() string
	Embedded() bool
}

// Model 文档模型描述
//
// 模型在 schema 构建期间可变，Registry.Freeze 之后只读。
type Model struct {
	name       string
	collection string
	idType     IDType
	idGen      idgen.Generator
	registry   *Registry

	mu            sync.RWMutex
	frozen        bool
	fields        []Field
	fieldIndex    map[string]int
	relations     []IRelation
	relationIndex map[string]int
	polymorphic   bool
	cyclic        bool
	embedded      bool
	indexes       []Index
	hooks         map[HookKind][]Hook
	validators    []Validator
	serializers   []Serializer
	detachers     []Hook
}

// ModelOption 模型选项
type ModelOption func(*Model)

// WithCollection 指定集合名，默认为模型名的下划线复数形式
func WithCollection(name string) ModelOption {
	return func(m *Model) { m.collection = name }
}

// WithIDType 指定主键类型
func WithIDType(t IDType) ModelOption {
	return func(m *Model) { m.idType = t }
}

// WithIDGenerator 指定主键生成器
func WithIDGenerator(g idgen.Generator) ModelOption {
	return func(m *Model) { m.idGen = g }
}

// NewModel 创建模型并声明 _id 字段
func NewModel(name string, opts ...ModelOption) *Model {
	m := &Model{
		name:          name,
		collection:    DefaultCollectionName(name),
		fieldIndex:    make(map[string]int),
		relationIndex: make(map[string]int),
		hooks:         make(map[HookKind][]Hook),
	}
	for _, opt := range opts {
		opt(m)
	}
	idField := Field{Name: "_id", Type: ObjectID}
	switch m.idType {
	case IDString:
		idField.Type = UUID
		if m.idGen == nil {
			m.idGen = idgen.UUIDGenerator{}
		}
	case IDInt64:
		idField.Type = Int
		if m.idGen == nil {
			sf, _ := idgen.NewSnowflake(1)
			m.idGen = sf
		}
	default:
		if m.idGen == nil {
			m.idGen = idgen.ObjectIDGenerator{}
		}
	}
	m.fields = append(m.fields, idField)
	m.fieldIndex["_id"] = 0
	return m
}

// Name 模型名
func (m *Model) Name() string { return m.name }

// CollectionName 集合名
func (m *Model) CollectionName() string { return m.collection }

// IDType 主键类型
func (m *Model) IDType() IDType { return m.idType }

// UsingObjectIDs 主键是否为 ObjectID
func (m *Model) UsingObjectIDs() bool { return m.idType == IDObjectID }

// Registry 所属注册表
func (m *Model) Registry() *Registry { return m.registry }

// Collection 返回模型对应的集合
func (m *Model) Collection() (ICollection, error) {
	if m.registry == nil || m.registry.db == nil {
		return nil, errors.NewError(errors.ErrCodeConfiguration,
			fmt.Sprintf("document: model %s is not bound to a database", m.name))
	}
	return m.registry.db.Collection(m.collection), nil
}

// NewID 生成新主键
func (m *Model) NewID() (any, error) {
	return m.idGen.Next()
}

func (m *Model) mutable() error {
	if m.frozen {
		return errors.NewError(errors.ErrCodeConfiguration,
			fmt.Sprintf("document: model %s is frozen", m.name))
	}
	return nil
}

// DeclareField 声明字段，同名字段覆盖原声明
func (m *Model) DeclareField(f Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return err
	}
	if i, ok := m.fieldIndex[f.Name]; ok {
		m.fields[i] = f
		return nil
	}
	m.fieldIndex[f.Name] = len(m.fields)
	m.fields = append(m.fields, f)
	return nil
}

// Field 按名称查找字段
func (m *Model) Field(name string) (Field, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

// Fields 返回字段声明副本
func (m *Model) Fields() []Field {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// AddRelation 注册关联，同名关联视为配置错误
func (m *Model) AddRelation(r IRelation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mutable(); err != nil {
		return err
	}
	if _, dup := m.relationIndex[r.Name()]; dup {
		return errors.NewError(errors.ErrCodeConfiguration,
			fmt.Sprintf("document: relation %s already defined on %s", r.Name(), m.name))
	}
	m.relationIndex[r.Name()] = len(m.relations)
	m.relations = append(m.relations, r)
	return nil
}

// Relation 按名称查找关联
func (m *Model) Relation(name string) (IRelation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.relationIndex[name]
	if !ok {
		return nil, false
	}
	return m.relations[i], true
}

// Relations 按声明顺序返回关联
func (m *Model) Relations() []IRelation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]IRelation, len(m.relations))
	copy(out, m.relations)
	return out
}

// SetPolymorphic 标记模型含多态 belongs_to
func (m *Model) SetPolymorphic(v bool) { m.setFlag(&m.polymorphic, v) }

// Polymorphic 模型是否含多态 belongs_to
func (m *Model) Polymorphic() bool { return m.flag(&m.polymorphic) }

// SetCyclic 标记模型可内嵌自身
func (m *Model) SetCyclic(v bool) { m.setFlag(&m.cyclic, v) }

// Cyclic 模型是否循环内嵌
func (m *Model) Cyclic() bool { return m.flag(&m.cyclic) }

// SetEmbedded 标记模型为内嵌模型
func (m *Model) SetEmbedded(v bool) { m.setFlag(&m.embedded, v) }

// IsEmbedded 模型是否为内嵌模型
func (m *Model) IsEmbedded() bool { return m.flag(&m.embedded) }

func (m *Model) setFlag(p *bool, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*p = v
}

func (m *Model) flag(p *bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *p
}

// DeclareIndex 记录索引声明
func (m *Model) DeclareIndex(idx Index) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes = append(m.indexes, idx)
}

// Indexes 已声明的索引
func (m *Model) Indexes() []Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Index, len(m.indexes))
	copy(out, m.indexes)
	return out
}

// AddHook 注册生命周期回调
func (m *Model) AddHook(kind HookKind, h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[kind] = append(m.hooks[kind], h)
}

// AddValidator 注册校验器
func (m *Model) AddValidator(v Validator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators = append(m.validators, v)
}

// AddSerializer 注册内嵌序列化器
func (m *Model) AddSerializer(s Serializer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serializers = append(m.serializers, s)
}

// AddDetacher 注册内嵌文档从父文档移除时的处理
func (m *Model) AddDetacher(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachers = append(m.detachers, h)
}

// RunHooks 依次执行某类回调，遇错即停
func (m *Model) RunHooks(ctx context.Context, kind HookKind, d *Document) error {
	m.mu.RLock()
	hooks := m.hooks[kind]
	m.mu.RUnlock()
	for _, h := range hooks {
		if err := h(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) snapshotValidators() []Validator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validators
}

func (m *Model) snapshotSerializers() []Serializer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serializers
}

func (m *Model) snapshotDetachers() []Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detachers
}

func (m *Model) freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
}

func (m *Model) String() string { return m.name }
