package document

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/inflect"
)

// DefaultCollectionName 模型名的下划线复数形式："FallenPetal" -> "fallen_petals"
func DefaultCollectionName(model string) string {
	return inflect.Pluralize(inflect.Underscore(model))
}

// Document 动态文档
//
// 属性以 bson.M 保存；relations 缓存已解析的关联代理，
// 键存在而值为 nil 表示已解析且为空。
type Document struct {
	model     *Model
	attrs     bson.M
	original  bson.M
	newRecord bool
	destroyed bool

	parent         *Document
	parentRelation string
	index          int

	relations map[string]any
}

// New 创建新文档，应用字段默认值后写入 attrs
func New(m *Model, attrs bson.M) *Document {
	d := &Document{
		model:     m,
		attrs:     bson.M{},
		original:  bson.M{},
		newRecord: true,
		relations: make(map[string]any),
	}
	for _, f := range m.Fields() {
		if f.Default != nil {
			d.attrs[f.Name] = f.Type.Mongoize(deepCopy(f.Default))
		}
	}
	for k, v := range attrs {
		d.Set(k, v)
	}
	return d
}

// Instantiate 从存储结果还原已持久化文档
func Instantiate(m *Model, raw bson.M) *Document {
	attrs, _ := ToM(raw)
	if attrs == nil {
		attrs = bson.M{}
	}
	d := &Document{
		model:     m,
		attrs:     attrs,
		relations: make(map[string]any),
	}
	for _, f := range m.Fields() {
		if _, ok := d.attrs[f.Name]; !ok && f.Default != nil {
			d.attrs[f.Name] = f.Type.Mongoize(deepCopy(f.Default))
		}
	}
	d.original = CopyM(d.attrs)
	return d
}

// Model 文档所属模型
func (d *Document) Model() *Model { return d.model }

// ID 主键值，未分配时为 nil
func (d *Document) ID() any { return d.attrs["_id"] }

// SetID 设置主键
func (d *Document) SetID(id any) { d.Set("_id", id) }

// Get 读取属性
func (d *Document) Get(key string) any { return d.attrs[key] }

// Has 属性是否存在
func (d *Document) Has(key string) bool {
	_, ok := d.attrs[key]
	return ok
}

// Set 写入属性，已声明字段按字段类型转换
func (d *Document) Set(key string, v any) {
	if f, ok := d.model.Field(key); ok {
		v = f.Type.Mongoize(v)
	}
	d.attrs[key] = v
}

// Unset 删除属性
func (d *Document) Unset(key string) { delete(d.attrs, key) }

// SyncAttribute 写入属性并同步快照，用于已由存储层写入的值（计数器、touch）
func (d *Document) SyncAttribute(key string, v any) {
	d.Set(key, v)
	d.original[key] = deepCopy(d.attrs[key])
}

// Attributes 返回属性副本
func (d *Document) Attributes() bson.M { return CopyM(d.attrs) }

// NewRecord 是否尚未持久化
func (d *Document) NewRecord() bool { return d.newRecord }

// Persisted 是否已持久化且未删除
func (d *Document) Persisted() bool { return !d.newRecord && !d.destroyed }

// Destroyed 是否已删除
func (d *Document) Destroyed() bool { return d.destroyed }

// Changed 属性相对最近一次持久化是否变化
func (d *Document) Changed(key string) bool {
	prev, had := d.original[key]
	cur, has := d.attrs[key]
	if had != has {
		return !(prev == nil && cur == nil)
	}
	return !EqualValues(prev, cur)
}

// Was 最近一次持久化时的属性值
func (d *Document) Was(key string) any { return d.original[key] }

// ChangedKeys 已变化的属性名（排序）
func (d *Document) ChangedKeys() []string {
	seen := make(map[string]struct{})
	for k := range d.attrs {
		seen[k] = struct{}{}
	}
	for k := range d.original {
		seen[k] = struct{}{}
	}
	var keys []string
	for k := range seen {
		if d.Changed(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// HasChanges 是否存在未持久化的变更
func (d *Document) HasChanges() bool {
	return d.newRecord || len(d.ChangedKeys()) > 0
}

// Parent 内嵌文档的父文档
func (d *Document) Parent() *Document { return d.parent }

// ParentRelation 父文档上容纳该文档的关联名
func (d *Document) ParentRelation() string { return d.parentRelation }

// SetParent 设置父文档，parent 为 nil 时脱离
func (d *Document) SetParent(parent *Document, relation string) {
	d.parent = parent
	if parent == nil {
		relation = ""
	}
	d.parentRelation = relation
}

// Root 内嵌链的根文档
func (d *Document) Root() *Document {
	root := d
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Embedded 是否处于内嵌位置
func (d *Document) Embedded() bool { return d.parent != nil }

// Index 在 embeds_many 容器中的位置
func (d *Document) Index() int { return d.index }

// SetIndex 设置容器位置
func (d *Document) SetIndex(i int) { d.index = i }

// Relation 读取关联缓存，ok 表示已解析
func (d *Document) Relation(name string) (any, bool) {
	v, ok := d.relations[name]
	return v, ok
}

// SetRelation 写入关联缓存
func (d *Document) SetRelation(name string, v any) { d.relations[name] = v }

// ClearRelation 清除关联缓存，下次访问重新解析
func (d *Document) ClearRelation(name string) { delete(d.relations, name) }

// Serialize 生成存储形式，返回写入其中的全部内嵌文档
func (d *Document) Serialize() (bson.M, []*Document, error) {
	raw := CopyM(d.attrs)
	var embedded []*Document
	for _, s := range d.model.snapshotSerializers() {
		written, err := s(d, raw)
		if err != nil {
			return nil, nil, err
		}
		embedded = append(embedded, written...)
	}
	return raw, embedded, nil
}

// markPersisted 存储写入成功后重置状态
func (d *Document) markPersisted(embedded []*Document) {
	d.newRecord = false
	d.original = CopyM(d.attrs)
	for _, child := range embedded {
		child.newRecord = false
		child.original = CopyM(child.attrs)
	}
}

// MarkDestroyed 标记为已删除
func (d *Document) MarkDestroyed() { d.destroyed = true }

// String 形如 Flower(64f0...)
func (d *Document) String() string {
	if id := d.ID(); id != nil {
		if oid, ok := id.(bson.ObjectID); ok {
			return fmt.Sprintf("%s(%s)", d.model.name, oid.Hex())
		}
		return fmt.Sprintf("%s(%v)", d.model.name, id)
	}
	return fmt.Sprintf("%s(new)", d.model.name)
}

// Same 是否为同一文档：同一实例，或同模型同主键
func Same(a, b *Document) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.model != b.model {
		return false
	}
	ida, idb := a.ID(), b.ID()
	return ida != nil && idb != nil && EqualValues(ida, idb)
}
