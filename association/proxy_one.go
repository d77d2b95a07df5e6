package association

import (
	"context"

	"docbind/document"
)

// One 单目标关联代理：belongs_to、has_one、embeds_one、embedded_in
//
// 代理在第一次读取时创建并缓存在 base 上；替换目标时返回新代理。
type One struct {
	base   *document.Document
	target *document.Document
	assoc  *Association
}

// Base 声明关联的文档
func (o *One) Base() *document.Document { return o.base }

// Target 关联目标
func (o *One) Target() *document.Document { return o.target }

// Association 关联元数据
func (o *One) Association() *Association { return o.assoc }

// newOne 绑定 base 与 target 并缓存代理；
// base 可持久化时 has_one 保存目标，embeds_one 保存根文档。
func newOne(ctx context.Context, a *Association, base, target *document.Document) (*One, error) {
	if err := checkMixed(a, target); err != nil {
		return nil, err
	}
	if err := bind(a, base, target); err != nil {
		return nil, err
	}
	o := &One{base: base, target: target, assoc: a}
	base.SetRelation(a.name, o)

	if persistable(ctx, base) {
		switch a.macro {
		case HasOne, EmbedsOne:
			if err := document.Save(ctx, target); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

// Substitute 用 replacement 替换当前目标，replacement 为 nil 时返回 nil 表示关联为空
//
// 旧目标被解绑；base 可持久化时按 dependent 选项销毁旧目标，否则保存旧目标。
func (o *One) Substitute(ctx context.Context, replacement *document.Document) (*One, error) {
	if replacement != nil && replacement == o.target {
		return o, nil
	}
	a, base, old := o.assoc, o.base, o.target
	if err := unbind(a, base, old); err != nil {
		return nil, err
	}
	base.SetRelation(a.name, nil)

	if old != nil && persistable(ctx, base) {
		switch a.macro {
		case HasOne:
			if a.Destructive() {
				if err := removeDependent(ctx, a, old); err != nil {
					return nil, err
				}
			} else if old.Persisted() {
				if err := document.Save(document.WithoutValidation(ctx), old); err != nil {
					return nil, err
				}
			}
		case EmbedsOne:
			wasPersisted := old.Persisted()
			if replacement == nil {
				if err := document.Save(document.WithoutValidation(ctx), base.Root()); err != nil {
					return nil, err
				}
			}
			if wasPersisted {
				old.MarkDestroyed()
			}
		case EmbeddedIn:
			if replacement == nil {
				if err := document.Save(document.WithoutValidation(ctx), old.Root()); err != nil {
					return nil, err
				}
				base.MarkDestroyed()
			}
		}
	}

	if replacement == nil {
		return nil, nil
	}
	return newOne(ctx, a, base, replacement)
}

// Nullify 解绑并保存脱离后的目标；只适用于 has_one 与循环内嵌的 embeds_one
func (o *One) Nullify(ctx context.Context) error {
	a := o.assoc
	cyclicEmbed := a.macro == EmbedsOne && (a.Cyclic() || (o.target != nil && o.target.Model().Cyclic()))
	if a.macro != HasOne && !cyclicEmbed {
		return unsupportedError(a, "nullify")
	}
	target := o.target
	if err := unbind(a, o.base, target); err != nil {
		return err
	}
	o.base.SetRelation(a.name, nil)

	if a.macro == HasOne {
		if target == nil || !target.Persisted() {
			return nil
		}
		return document.Save(document.WithoutValidation(ctx), target)
	}
	if o.base.Root().Persisted() {
		return document.Save(document.WithoutValidation(ctx), o.base.Root())
	}
	return nil
}

// checkMixed 引用关联不能指向内嵌模型，内嵌关联不能容纳独立持久化的根文档
func checkMixed(a *Association, target *document.Document) error {
	if target == nil {
		return nil
	}
	cls := target.Model()
	cyclic := a.Cyclic() || cls.Cyclic()
	switch a.macro {
	case BelongsTo, HasOne, HasMany:
		if cls.IsEmbedded() && !cyclic {
			return mixedError(a, target)
		}
	case EmbedsOne, EmbedsMany:
		if !cls.IsEmbedded() && !cyclic && target.Persisted() && target.Parent() == nil {
			return mixedError(a, target)
		}
	}
	return nil
}
