package association

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
)

// embeddedMany 返回父文档上 embeds_many 的代理，首次访问时由原始数据物化
func embeddedMany(parent *document.Document, a *Association) (*Many, error) {
	if cached, ok := parent.Relation(a.name); ok {
		if m, ok := cached.(*Many); ok && m != nil {
			return m, nil
		}
	}
	m := &Many{base: parent, assoc: a, loaded: true}
	items, _ := document.ToSlice(parent.Get(a.Key()))
	for _, item := range items {
		raw, ok := document.ToM(item)
		if !ok {
			continue
		}
		child, err := instantiateEmbedded(parent, a, raw)
		if err != nil {
			return nil, err
		}
		m.docs = append(m.docs, child)
		if err := linkEmbedded(a, parent, child); err != nil {
			return nil, err
		}
		child.SetIndex(len(m.docs) - 1)
	}
	parent.SetRelation(a.name, m)
	return m, nil
}

// embeddedOne 由原始数据物化 embeds_one 目标，不存在时返回 nil
func embeddedOne(parent *document.Document, a *Association) (*document.Document, error) {
	raw, ok := document.ToM(parent.Get(a.Key()))
	if !ok || raw == nil {
		return nil, nil
	}
	child, err := instantiateEmbedded(parent, a, raw)
	if err != nil {
		return nil, err
	}
	return child, linkEmbedded(a, parent, child)
}

// instantiateEmbedded 父文档未保存时内嵌文档也视为新文档；"_type" 指定具体模型
func instantiateEmbedded(parent *document.Document, a *Association, raw bson.M) (*document.Document, error) {
	cls, err := a.RelationClass()
	if err != nil {
		return nil, err
	}
	if typeName, ok := raw["_type"].(string); ok && typeName != "" {
		if sub, ok := a.owner.Registry().Model(typeName); ok {
			cls = sub
		}
	}
	if parent.NewRecord() {
		return document.New(cls, raw), nil
	}
	return document.Instantiate(cls, raw), nil
}

// linkEmbedded 物化时直接建立父子引用，不经过绑定（不改变计数器）
func linkEmbedded(a *Association, parent, child *document.Document) error {
	child.SetParent(parent, a.name)
	inv, err := a.InverseAssociation(child.Model())
	if err != nil || inv == nil {
		return err
	}
	child.SetRelation(inv.name, &One{base: child, target: parent, assoc: inv})
	return nil
}

// serializeEmbedded 将内嵌文档写入原始数据，返回写入的文档供持久化后重置状态
func serializeEmbedded(a *Association) document.Serializer {
	return func(d *document.Document, raw bson.M) ([]*document.Document, error) {
		cached, ok := d.Relation(a.name)
		if !ok {
			return nil, nil
		}
		key := a.Key()
		switch p := cached.(type) {
		case *Many:
			if p == nil {
				delete(raw, key)
				return nil, nil
			}
			items := make(bson.A, 0, len(p.docs))
			var written []*document.Document
			for _, child := range p.docs {
				if child.Destroyed() {
					continue
				}
				sub, nested, err := serializeChild(child)
				if err != nil {
					return nil, err
				}
				items = append(items, sub)
				written = append(written, child)
				written = append(written, nested...)
			}
			raw[key] = items
			return written, nil
		case *One:
			if p == nil || p.target == nil || p.target.Destroyed() {
				delete(raw, key)
				return nil, nil
			}
			sub, nested, err := serializeChild(p.target)
			if err != nil {
				return nil, err
			}
			raw[key] = sub
			return append([]*document.Document{p.target}, nested...), nil
		default:
			delete(raw, key)
			return nil, nil
		}
	}
}

func serializeChild(child *document.Document) (bson.M, []*document.Document, error) {
	if err := document.AssignID(child); err != nil {
		return nil, nil, err
	}
	return child.Serialize()
}
