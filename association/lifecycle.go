package association

import (
	"context"

	"docbind/document"
)

type ctxKey int

const (
	buildingKey ctxKey = iota
	noAutobuildKey
	autosaveKey
)

// WithBuilding 标记处于构建/加载过程中，期间代理不会持久化目标
func WithBuilding(ctx context.Context) context.Context {
	return context.WithValue(ctx, buildingKey, true)
}

func isBuilding(ctx context.Context) bool {
	v, _ := ctx.Value(buildingKey).(bool)
	return v
}

func withoutAutobuild(ctx context.Context) context.Context {
	return context.WithValue(ctx, noAutobuildKey, true)
}

func autobuildDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noAutobuildKey).(bool)
	return v
}

type visited map[*document.Document]struct{}

// enterAutosave 同一调用链中每个文档只级联保存一次
func enterAutosave(ctx context.Context, d *document.Document) (context.Context, bool) {
	set, _ := ctx.Value(autosaveKey).(visited)
	if set == nil {
		set = make(visited)
		ctx = context.WithValue(ctx, autosaveKey, set)
	}
	if _, seen := set[d]; seen {
		return ctx, false
	}
	set[d] = struct{}{}
	return ctx, true
}

// persistable base 已持久化且当前不在构建/加载过程中
//
// 绑定本身只修改内存，不会触发保存，因此只需检查构建标记。
func persistable(ctx context.Context, base *document.Document) bool {
	return base.Persisted() && !isBuilding(ctx)
}
