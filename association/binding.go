package association

import (
	"docbind/document"
)

// bind 建立 base 与 target 之间的外键与内存反向引用，不做持久化
//
// base 为声明关联 a 的一侧。已绑定的一对再次绑定不产生变化。
func bind(a *Association, base, target *document.Document) error {
	if base == nil || target == nil {
		return nil
	}
	switch a.macro {
	case BelongsTo:
		if err := releasePrevious(a, base, target); err != nil {
			return err
		}
		setForeignKey(a, base, target)
		return attachInverse(a, target, base)

	case HasOne, HasMany:
		if inv, err := a.InverseAssociation(target.Model()); err != nil {
			return err
		} else if inv != nil {
			if err := releasePrevious(inv, target, base); err != nil {
				return err
			}
		}
		target.Set(a.ForeignKey(), a.ConvertToForeignKey(base.Get(a.PrimaryKey())))
		if tf := a.TypeField(); tf != "" {
			target.Set(tf, base.Model().Name())
		}
		return attachInverse(a, target, base)

	case EmbedsOne, EmbedsMany:
		wasBound := target.Parent() == base && target.ParentRelation() == a.name
		target.SetParent(base, a.name)
		inv, err := a.InverseAssociation(target.Model())
		if err != nil || inv == nil {
			return err
		}
		target.SetRelation(inv.name, &One{base: target, target: base, assoc: inv})
		if !wasBound {
			adjustEmbeddedCounter(inv, base, 1)
		}
		return nil

	case EmbeddedIn:
		inv, err := a.InverseAssociation(target.Model())
		if err != nil {
			return err
		}
		if inv == nil {
			base.SetParent(target, "")
			return nil
		}
		wasBound := base.Parent() == target && base.ParentRelation() == inv.name
		if prev := base.Parent(); prev != nil && prev != target {
			if err := detachEmbedded(inv, prev, base); err != nil {
				return err
			}
		}
		base.SetParent(target, inv.name)
		if err := placeEmbedded(inv, target, base); err != nil {
			return err
		}
		if !wasBound {
			adjustEmbeddedCounter(a, target, 1)
		}
		return nil
	}
	return nil
}

// unbind 解除 base 与 target 的关联；未绑定的一对不产生变化
func unbind(a *Association, base, target *document.Document) error {
	if base == nil || target == nil {
		return nil
	}
	switch a.macro {
	case BelongsTo:
		if document.EqualValues(base.Get(a.ForeignKey()), a.ConvertToForeignKey(target.Get(a.PrimaryKey()))) {
			base.Set(a.ForeignKey(), nil)
			if a.opts.Polymorphic {
				base.Set(a.InverseTypeField(), nil)
			}
		}
		return detachInverse(a, target, base)

	case HasOne, HasMany:
		if document.EqualValues(target.Get(a.ForeignKey()), a.ConvertToForeignKey(base.Get(a.PrimaryKey()))) {
			target.Set(a.ForeignKey(), nil)
			if tf := a.TypeField(); tf != "" {
				target.Set(tf, nil)
			}
		}
		return detachInverse(a, target, base)

	case EmbedsOne, EmbedsMany:
		if target.Parent() != base {
			return nil
		}
		target.SetParent(nil, "")
		inv, err := a.InverseAssociation(target.Model())
		if err != nil || inv == nil {
			return err
		}
		target.SetRelation(inv.name, nil)
		adjustEmbeddedCounter(inv, base, -1)
		return nil

	case EmbeddedIn:
		if base.Parent() != target {
			return nil
		}
		inv, err := a.InverseAssociation(target.Model())
		if err != nil {
			return err
		}
		base.SetParent(nil, "")
		if inv != nil {
			if err := detachEmbedded(inv, target, base); err != nil {
				return err
			}
		}
		adjustEmbeddedCounter(a, target, -1)
		return nil
	}
	return nil
}

// setForeignKey belongs_to 一侧写入外键与类型字段
func setForeignKey(a *Association, base, target *document.Document) {
	base.Set(a.ForeignKey(), a.ConvertToForeignKey(target.Get(a.PrimaryKey())))
	if a.opts.Polymorphic {
		base.Set(a.InverseTypeField(), target.Model().Name())
	}
}

// releasePrevious child 改挂到 owner 前，从原 owner 的内存关联中移除 child
//
// a 为 child 一侧的 belongs_to 关联。
func releasePrevious(a *Association, child, owner *document.Document) error {
	cached, ok := child.Relation(a.name)
	if !ok {
		return nil
	}
	p, isOne := cached.(*One)
	if !isOne || p.target == nil || p.target == owner {
		return nil
	}
	return detachInverse(a, p.target, child)
}

// attachInverse 将 doc 放入 owner 上 a 的反向关联的内存位置，不查询存储
func attachInverse(a *Association, owner, doc *document.Document) error {
	inv, err := a.InverseAssociation(owner.Model())
	if err != nil || inv == nil {
		return err
	}
	if inv.Many() {
		m, err := manyFor(owner, inv)
		if err != nil {
			return err
		}
		m.attach(doc)
		return nil
	}
	owner.SetRelation(inv.name, &One{base: owner, target: doc, assoc: inv})
	return nil
}

func detachInverse(a *Association, owner, doc *document.Document) error {
	inv, err := a.InverseAssociation(owner.Model())
	if err != nil || inv == nil {
		return err
	}
	cached, ok := owner.Relation(inv.name)
	if !ok {
		return nil
	}
	switch p := cached.(type) {
	case *Many:
		p.detach(doc)
	case *One:
		if p.target == doc {
			owner.SetRelation(inv.name, nil)
		}
	}
	return nil
}

// placeEmbedded 确保 child 位于 parent 的内嵌容器中
func placeEmbedded(inv *Association, parent, child *document.Document) error {
	if inv.Many() {
		m, err := embeddedMany(parent, inv)
		if err != nil {
			return err
		}
		m.attach(child)
		return nil
	}
	if cached, ok := parent.Relation(inv.name); ok {
		if p, ok := cached.(*One); ok && p.target != nil && p.target != child {
			p.target.SetParent(nil, "")
		}
	}
	parent.SetRelation(inv.name, &One{base: parent, target: child, assoc: inv})
	return nil
}

func detachEmbedded(inv *Association, parent, child *document.Document) error {
	if inv.Many() {
		m, err := embeddedMany(parent, inv)
		if err != nil {
			return err
		}
		m.detach(child)
		return nil
	}
	if cached, ok := parent.Relation(inv.name); ok {
		if p, ok := cached.(*One); ok && p.target == child {
			parent.SetRelation(inv.name, nil)
		}
	}
	return nil
}
