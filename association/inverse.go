package association

import (
	"sort"

	"docbind/document"
)

// Inverse 解析反向关联名
//
// other 为对端的实际模型，nil 时使用关联目标类；多态 belongs_to/embedded_in
// 没有静态目标，other 为 nil 时返回空。返回空字符串表示单向关联。
func (a *Association) Inverse(other *document.Model) (string, error) {
	switch {
	case a.opts.NoInverse:
		return "", nil
	case a.opts.InverseOf != "":
		return a.opts.InverseOf, nil
	case a.opts.As != "":
		return a.opts.As, nil
	}

	if a.opts.Polymorphic {
		if other == nil {
			return "", nil
		}
		if cached, ok := a.polyInverse.Load(other.Name()); ok {
			r := cached.(inverseResult)
			return r.name, r.err
		}
		name, err := a.lookupInverse(other)
		actual, _ := a.polyInverse.LoadOrStore(other.Name(), inverseResult{name: name, err: err})
		r := actual.(inverseResult)
		return r.name, r.err
	}

	if other != nil && other.Name() != a.className() {
		return a.lookupInverse(other)
	}
	a.inverseOnce.Do(func() {
		cls, err := a.RelationClass()
		if err != nil {
			a.inverseErr = err
			return
		}
		a.inverseName, a.inverseErr = a.lookupInverse(cls)
	})
	return a.inverseName, a.inverseErr
}

// lookupInverse 在 other 上按互补宏集合筛选候选关联
func (a *Association) lookupInverse(other *document.Model) (string, error) {
	var candidates []*Association
	for _, r := range other.Relations() {
		cand, ok := r.(*Association)
		if !ok || !a.macro.complementOf(cand.macro) {
			continue
		}
		if a.opts.Polymorphic {
			if cand.opts.As == a.name {
				candidates = append(candidates, cand)
			}
			continue
		}
		if cand.opts.Polymorphic || cand.className() != a.owner.Name() {
			continue
		}
		// 对端多态集合只与同名角色配对
		if cand.opts.As != "" && cand.opts.As != a.name {
			continue
		}
		if cand.opts.NoInverse || (cand.opts.InverseOf != "" && cand.opts.InverseOf != a.name) {
			continue
		}
		candidates = append(candidates, cand)
	}

	if len(candidates) > 1 {
		var explicit []*Association
		for _, c := range candidates {
			if c.opts.InverseOf == a.name {
				explicit = append(explicit, c)
			}
		}
		if len(explicit) == 1 {
			return explicit[0].name, nil
		}
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.name
		}
		sort.Strings(names)
		return "", ambiguousError(a, other, names)
	}
	if len(candidates) == 1 {
		return candidates[0].name, nil
	}
	return "", nil
}

// InverseAssociation 返回 other 上的反向关联元数据，单向关联返回 nil
func (a *Association) InverseAssociation(other *document.Model) (*Association, error) {
	name, err := a.Inverse(other)
	if err != nil || name == "" {
		return nil, err
	}
	if other == nil {
		if other, err = a.RelationClass(); err != nil {
			return nil, err
		}
	}
	r, ok := other.Relation(name)
	if !ok {
		return nil, nil
	}
	inv, _ := r.(*Association)
	return inv, nil
}
