package association

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
)

// Many 集合关联代理：has_many 与 embeds_many
//
// has_many 在首次枚举时查询存储，未加载前追加的文档与查询结果合并；
// embeds_many 由父文档的原始数据物化，始终处于已加载状态。
type Many struct {
	base   *document.Document
	assoc  *Association
	docs   []*document.Document
	loaded bool
}

// Base 声明关联的文档
func (m *Many) Base() *document.Document { return m.base }

// Association 关联元数据
func (m *Many) Association() *Association { return m.assoc }

// Loaded 是否已加载
func (m *Many) Loaded() bool { return m.loaded }

// manyFor 返回缓存的集合代理，不存在时创建未加载的代理
func manyFor(owner *document.Document, a *Association) (*Many, error) {
	if a.Embedded() {
		return embeddedMany(owner, a)
	}
	if cached, ok := owner.Relation(a.name); ok {
		if m, ok := cached.(*Many); ok && m != nil {
			return m, nil
		}
	}
	m := &Many{base: owner, assoc: a}
	owner.SetRelation(a.name, m)
	return m, nil
}

func (m *Many) index(doc *document.Document) int {
	for i, d := range m.docs {
		if d == doc {
			return i
		}
	}
	for i, d := range m.docs {
		if document.Same(d, doc) {
			return i
		}
	}
	return -1
}

// attach 不存在时追加，不绑定也不持久化
func (m *Many) attach(doc *document.Document) {
	if m.index(doc) >= 0 {
		return
	}
	m.docs = append(m.docs, doc)
	if m.assoc.Embedded() {
		doc.SetIndex(len(m.docs) - 1)
	}
}

// detach 移除文档，返回是否存在
func (m *Many) detach(doc *document.Document) bool {
	i := m.index(doc)
	if i < 0 {
		return false
	}
	m.docs = append(m.docs[:i:i], m.docs[i+1:]...)
	m.reindex()
	return true
}

func (m *Many) reindex() {
	if !m.assoc.Embedded() {
		return
	}
	for i, d := range m.docs {
		d.SetIndex(i)
	}
}

// load has_many 首次枚举时查询并合并内存中已追加的文档
func (m *Many) load(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	a, base := m.assoc, m.base
	key := base.Get(a.PrimaryKey())
	if base.NewRecord() || key == nil {
		m.loaded = true
		return nil
	}
	cls, err := a.RelationClass()
	if err != nil {
		return err
	}
	found, err := document.Find(ctx, cls, Criteria(a, a.ConvertToForeignKey(key), base.Model()),
		document.FindOptions{Sort: a.Order()})
	if err != nil {
		return err
	}
	inv, err := a.InverseAssociation(cls)
	if err != nil {
		return err
	}

	merged := make([]*document.Document, 0, len(found)+len(m.docs))
	used := make(map[*document.Document]bool, len(m.docs))
	for _, f := range found {
		doc := f
		for _, existing := range m.docs {
			if !used[existing] && document.Same(existing, f) {
				doc = existing
				used[existing] = true
				break
			}
		}
		if doc == f && inv != nil {
			f.SetRelation(inv.name, &One{base: f, target: base, assoc: inv})
		}
		merged = append(merged, doc)
	}
	for _, existing := range m.docs {
		if !used[existing] {
			merged = append(merged, existing)
		}
	}
	m.docs = merged
	m.loaded = true
	base.Model().Registry().Logger().Debug(ctx, "relation loaded",
		loggingFields(a, len(found))...)
	return nil
}

// All 返回全部目标（按需加载）
func (m *Many) All(ctx context.Context) ([]*document.Document, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	out := make([]*document.Document, len(m.docs))
	copy(out, m.docs)
	return out, nil
}

// Len 目标数量
func (m *Many) Len(ctx context.Context) (int, error) {
	if err := m.load(ctx); err != nil {
		return 0, err
	}
	return len(m.docs), nil
}

// Include 是否包含 doc（同一实例或同主键）
func (m *Many) Include(ctx context.Context, doc *document.Document) (bool, error) {
	if err := m.load(ctx); err != nil {
		return false, err
	}
	return m.index(doc) >= 0, nil
}

// Push 追加并绑定文档；base 可持久化时保存每个新文档
func (m *Many) Push(ctx context.Context, docs ...*document.Document) error {
	a := m.assoc
	for _, doc := range docs {
		if doc == nil || m.index(doc) >= 0 {
			continue
		}
		if err := checkMixed(a, doc); err != nil {
			return err
		}
		if err := runCallbacks(ctx, a.opts.BeforeAdd, m.base, doc); err != nil {
			return err
		}
		m.attach(doc)
		if err := bind(a, m.base, doc); err != nil {
			return err
		}
		if persistable(ctx, m.base) {
			if err := document.Save(ctx, doc); err != nil {
				return err
			}
		}
		if err := runCallbacks(ctx, a.opts.AfterAdd, m.base, doc); err != nil {
			return err
		}
	}
	return nil
}

// Build 以 attrs 构建新目标并绑定，不持久化
func (m *Many) Build(ctx context.Context, attrs bson.M) (*document.Document, error) {
	doc, err := NewBuilder(m.assoc, m.base, attrs).Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Push(WithBuilding(ctx), doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Create 构建并立即保存；has_many 要求 base 已保存
func (m *Many) Create(ctx context.Context, attrs bson.M) (*document.Document, error) {
	if !m.assoc.Embedded() && m.base.NewRecord() {
		return nil, unsavedError(m.assoc, m.base)
	}
	doc, err := m.Build(ctx, attrs)
	if err != nil {
		return nil, err
	}
	if err := document.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete 移除并解绑 doc；base 可持久化时按 dependent 选项级联，否则保存 doc
func (m *Many) Delete(ctx context.Context, doc *document.Document) (bool, error) {
	a := m.assoc
	if doc == nil {
		return false, nil
	}
	if i := m.index(doc); i >= 0 {
		doc = m.docs[i]
	} else if a.Embedded() || !document.EqualValues(doc.Get(a.ForeignKey()), a.ConvertToForeignKey(m.base.Get(a.PrimaryKey()))) {
		return false, nil
	}
	if err := runCallbacks(ctx, a.opts.BeforeRemove, m.base, doc); err != nil {
		return false, err
	}
	m.detach(doc)
	if err := unbind(a, m.base, doc); err != nil {
		return false, err
	}
	if persistable(ctx, m.base) {
		if err := m.cascade(ctx, doc); err != nil {
			return false, err
		}
	}
	if err := runCallbacks(ctx, a.opts.AfterRemove, m.base, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Many) cascade(ctx context.Context, doc *document.Document) error {
	if m.assoc.Embedded() {
		persisted := doc.Persisted()
		if err := document.Save(document.WithoutValidation(ctx), m.base.Root()); err != nil {
			return err
		}
		if persisted {
			doc.MarkDestroyed()
		}
		return nil
	}
	if m.assoc.Destructive() {
		return removeDependent(ctx, m.assoc, doc)
	}
	if doc.Persisted() {
		return document.Save(document.WithoutValidation(ctx), doc)
	}
	return nil
}

// Clear 清空集合：destroy/delete 策略删除目标，其余策略等同 Nullify
func (m *Many) Clear(ctx context.Context) error {
	a := m.assoc
	if a.Embedded() {
		return m.clearEmbedded(ctx)
	}
	if !a.Destructive() {
		return m.Nullify(ctx)
	}
	docs, err := m.All(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := unbind(a, m.base, doc); err != nil {
			return err
		}
		if persistable(ctx, m.base) {
			if err := removeDependent(ctx, a, doc); err != nil {
				return err
			}
		}
	}
	m.docs = nil
	m.loaded = true
	return nil
}

func (m *Many) clearEmbedded(ctx context.Context) error {
	docs := m.docs
	m.docs = nil
	for _, doc := range docs {
		if err := unbind(m.assoc, m.base, doc); err != nil {
			return err
		}
	}
	if persistable(ctx, m.base) {
		if err := document.Save(document.WithoutValidation(ctx), m.base.Root()); err != nil {
			return err
		}
		for _, doc := range docs {
			doc.MarkDestroyed()
		}
	}
	return nil
}

// Nullify 解绑全部目标并保存；embeds_many 只在循环内嵌时支持
func (m *Many) Nullify(ctx context.Context) error {
	a := m.assoc
	if a.Embedded() {
		cls, err := a.RelationClass()
		if err != nil {
			return err
		}
		if !a.Cyclic() && !cls.Cyclic() {
			return unsupportedError(a, "nullify")
		}
		return m.clearEmbedded(ctx)
	}
	docs, err := m.All(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := unbind(a, m.base, doc); err != nil {
			return err
		}
		if doc.Persisted() {
			if err := document.Save(document.WithoutValidation(ctx), doc); err != nil {
				return err
			}
		}
	}
	m.docs = nil
	m.loaded = true
	return nil
}

// Substitute 用 replacement 替换全部目标；replacement 为空时返回 nil 表示关联为空
func (m *Many) Substitute(ctx context.Context, replacement []*document.Document) (*Many, error) {
	current, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range current {
		if containsDoc(replacement, doc) {
			continue
		}
		if _, err := m.Delete(ctx, doc); err != nil {
			return nil, err
		}
	}

	fresh := &Many{base: m.base, assoc: m.assoc, loaded: true}
	m.base.SetRelation(m.assoc.name, fresh)
	if err := fresh.Push(ctx, replacement...); err != nil {
		return nil, err
	}
	if len(replacement) == 0 {
		return nil, nil
	}
	return fresh, nil
}

// Reload 丢弃内存中的目标并重新加载
func (m *Many) Reload(ctx context.Context) ([]*document.Document, error) {
	if m.assoc.Embedded() {
		m.base.ClearRelation(m.assoc.name)
		fresh, err := embeddedMany(m.base, m.assoc)
		if err != nil {
			return nil, err
		}
		*m = *fresh
		m.base.SetRelation(m.assoc.name, m)
		return m.All(ctx)
	}
	m.docs = nil
	m.loaded = false
	return m.All(ctx)
}

func containsDoc(docs []*document.Document, doc *document.Document) bool {
	for _, d := range docs {
		if document.Same(d, doc) {
			return true
		}
	}
	return false
}
