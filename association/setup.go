package association

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
	"docbind/logging"
)

// Setup 在 owner 模型上安装字段、索引、校验器与生命周期回调
//
// 由 schema 在全部模型与关联声明完成后调用，每个关联只调用一次。
func Setup(a *Association) error {
	switch a.macro {
	case BelongsTo:
		return setupBelongsTo(a)
	case HasOne, HasMany:
		setupHas(a)
	case EmbedsOne, EmbedsMany:
		setupEmbeds(a)
	case EmbeddedIn:
		setupEmbeddedIn(a)
	}
	return nil
}

// Verify 解析目标类与反向关联，尽早暴露配置错误
//
// 多态关联的反向关联取决于运行时类型，首次使用时才解析。
func Verify(a *Association) error {
	if a.opts.Polymorphic {
		return nil
	}
	cls, err := a.RelationClass()
	if err != nil {
		return err
	}
	if !a.Embedded() && cls.IsEmbedded() && !a.Cyclic() && !cls.Cyclic() {
		return configurationError(a.owner, a.name, "referenced relation cannot target embedded class %s", cls.Name())
	}
	_, err = a.Inverse(nil)
	return err
}

func setupBelongsTo(a *Association) error {
	owner, fk := a.owner, a.ForeignKey()
	if err := owner.DeclareField(document.Field{Name: fk, Type: document.Object, Identity: true,
		Association: a.name}); err != nil {
		return err
	}
	keys := bson.D{{Key: fk, Value: 1}}
	if a.opts.Polymorphic {
		if err := owner.DeclareField(document.Field{Name: a.InverseTypeField(), Type: document.String}); err != nil {
			return err
		}
		owner.SetPolymorphic(true)
		keys = append(keys, bson.E{Key: a.InverseTypeField(), Value: 1})
	}
	if a.opts.Index {
		owner.DeclareIndex(document.Index{Keys: keys, Sparse: true})
	}

	if a.RequireAssociation() {
		owner.AddValidator(presenceValidator(a))
	}
	if a.ValidateAssociated() {
		owner.AddValidator(associatedValidator(a))
	}

	owner.AddHook(document.BeforeSave, syncForeignKey(a))
	if a.Autosave() {
		owner.AddHook(document.BeforeSave, autosaveParent(a))
	}
	if a.CounterCacheField() != "" {
		owner.AddHook(document.AfterCreate, func(ctx context.Context, d *document.Document) error {
			return changeCounter(ctx, a, d, d.Get(fk), d.Get(a.InverseTypeField()), 1)
		})
		owner.AddHook(document.AfterUpdate, func(ctx context.Context, d *document.Document) error {
			if !d.Changed(fk) && !d.Changed(a.InverseTypeField()) {
				return nil
			}
			if err := changeCounter(ctx, a, d, d.Was(fk), d.Was(a.InverseTypeField()), -1); err != nil {
				return err
			}
			return changeCounter(ctx, a, d, d.Get(fk), d.Get(a.InverseTypeField()), 1)
		})
		owner.AddHook(document.BeforeDestroy, func(ctx context.Context, d *document.Document) error {
			key, typ := d.Was(fk), d.Was(a.InverseTypeField())
			if key == nil {
				key, typ = d.Get(fk), d.Get(a.InverseTypeField())
			}
			return changeCounter(ctx, a, d, key, typ, -1)
		})
	}
	if a.Touchable() {
		owner.AddHook(document.AfterSave, touchParent(a))
		owner.AddHook(document.AfterDestroy, touchParent(a))
	}
	switch a.Dependent() {
	case DependentDestroy, DependentDelete:
		owner.AddHook(document.AfterDestroy, func(ctx context.Context, d *document.Document) error {
			parent, err := LoadOne(withoutAutobuild(ctx), d, a.name)
			if err != nil || parent == nil {
				return err
			}
			return removeDependent(ctx, a, parent)
		})
	case DependentRestrict:
		owner.AddHook(document.BeforeDestroy, restrictDependent(a))
	}
	return nil
}

func setupHas(a *Association) {
	owner := a.owner
	owner.AddHook(document.AfterCreate, flushForeignKeys(a))
	if a.ValidateAssociated() {
		owner.AddValidator(associatedValidator(a))
	}
	if a.Autosave() {
		owner.AddHook(document.AfterSave, autosaveTargets(a))
	}
	switch a.Dependent() {
	case DependentDestroy, DependentDelete, DependentNullify:
		owner.AddHook(document.BeforeDestroy, func(ctx context.Context, d *document.Document) error {
			return applyDependent(ctx, a, d)
		})
	case DependentRestrict:
		owner.AddHook(document.BeforeDestroy, restrictDependent(a))
	}
}

func setupEmbeds(a *Association) {
	owner := a.owner
	owner.AddSerializer(serializeEmbedded(a))
	if a.Cyclic() {
		owner.SetCyclic(true)
		if cls, err := a.RelationClass(); err == nil {
			cls.SetCyclic(true)
		}
	}
	if a.ValidateAssociated() {
		owner.AddValidator(associatedValidator(a))
	}
	if a.CascadeCallbacks() {
		for _, kind := range []document.HookKind{document.BeforeSave, document.BeforeDestroy, document.AfterDestroy} {
			owner.AddHook(kind, cascadeHook(a, func(*document.Document) document.HookKind { return kind }))
		}
		owner.AddHook(document.AfterCreate, cascadeHook(a, childAfterKind))
		owner.AddHook(document.AfterUpdate, cascadeHook(a, childAfterKind))
		owner.AddHook(document.AfterSave, cascadeHook(a, func(*document.Document) document.HookKind { return document.AfterSave }))
	}
}

func setupEmbeddedIn(a *Association) {
	owner := a.owner
	owner.SetEmbedded(true)
	if a.Cyclic() {
		owner.SetCyclic(true)
	}
	owner.AddDetacher(func(ctx context.Context, d *document.Document) error {
		parent := d.Parent()
		if parent == nil {
			return nil
		}
		inv, err := a.InverseAssociation(parent.Model())
		if err != nil || inv == nil || inv.name != d.ParentRelation() {
			return err
		}
		return unbind(a, d, parent)
	})
	if a.Touchable() {
		owner.AddHook(document.BeforeSave, touchEmbeddedParent(a))
		owner.AddHook(document.BeforeDestroy, touchEmbeddedParent(a))
	}
}

// presenceValidator 必填 belongs_to：外键或内存目标至少一个存在
func presenceValidator(a *Association) document.Validator {
	return func(ctx context.Context, d *document.Document) error {
		target, err := LoadOne(withoutAutobuild(ctx), d, a.name)
		if err != nil {
			return err
		}
		if target != nil && !target.Destroyed() {
			return nil
		}
		return errors.NewError(errors.ErrCodeValidation, fmt.Sprintf("%s must exist", a.name)).
			WithDetails(map[string]any{"errors": []string{a.name + " must exist"}})
	}
}

// associatedValidator 只校验已加载的目标，不触发查询（内嵌目标随父文档物化）
func associatedValidator(a *Association) document.Validator {
	return func(ctx context.Context, d *document.Document) error {
		targets, err := loadedTargets(a, d)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if t.Destroyed() {
				continue
			}
			err := document.Validate(ctx, t)
			if err == nil {
				continue
			}
			if !errors.IsValidation(err) {
				return err
			}
			msg := a.name + " is invalid"
			return errors.NewErrorWithCause(errors.ErrCodeValidation, msg, err).
				WithDetails(map[string]any{"errors": []string{msg}})
		}
		return nil
	}
}

// loadedTargets 缓存中的目标；内嵌关联按需由原始数据物化
func loadedTargets(a *Association, d *document.Document) ([]*document.Document, error) {
	if a.macro == EmbedsMany {
		m, err := embeddedMany(d, a)
		if err != nil {
			return nil, err
		}
		return m.docs, nil
	}
	if a.macro == EmbedsOne {
		if _, ok := d.Relation(a.name); !ok {
			if _, err := cachedOne(context.Background(), a, d); err != nil {
				return nil, err
			}
		}
	}
	cached, ok := d.Relation(a.name)
	if !ok {
		return nil, nil
	}
	switch p := cached.(type) {
	case *One:
		if p != nil && p.target != nil {
			return []*document.Document{p.target}, nil
		}
	case *Many:
		if p != nil {
			return p.docs, nil
		}
	}
	return nil, nil
}

// syncForeignKey 目标在绑定后才获得主键时，保存前补写外键
func syncForeignKey(a *Association) document.Hook {
	return func(ctx context.Context, d *document.Document) error {
		cached, ok := d.Relation(a.name)
		if !ok {
			return nil
		}
		p, _ := cached.(*One)
		if p == nil || p.target == nil || p.target.Get(a.PrimaryKey()) == nil {
			return nil
		}
		want := a.ConvertToForeignKey(p.target.Get(a.PrimaryKey()))
		if !document.EqualValues(d.Get(a.ForeignKey()), want) {
			setForeignKey(a, d, p.target)
		}
		return nil
	}
}

// autosaveParent belongs_to 保存前先保存新建或已修改的父文档
func autosaveParent(a *Association) document.Hook {
	return func(ctx context.Context, d *document.Document) error {
		ctx, first := enterAutosave(ctx, d)
		if !first {
			return nil
		}
		cached, ok := d.Relation(a.name)
		if !ok {
			return nil
		}
		p, _ := cached.(*One)
		if p == nil || p.target == nil || p.target.Destroyed() || !p.target.HasChanges() {
			return nil
		}
		if _, again := enterAutosave(ctx, p.target); !again {
			return nil
		}
		if err := document.Save(ctx, p.target); err != nil {
			return err
		}
		setForeignKey(a, d, p.target)
		return nil
	}
}

// autosaveTargets has_one/has_many 保存后保存新建或已修改的已加载目标
func autosaveTargets(a *Association) document.Hook {
	return func(ctx context.Context, d *document.Document) error {
		ctx, first := enterAutosave(ctx, d)
		if !first {
			return nil
		}
		targets, err := loadedTargets(a, d)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if t.Destroyed() || !t.HasChanges() {
				continue
			}
			if _, again := enterAutosave(ctx, t); !again {
				continue
			}
			if err := document.Save(ctx, t); err != nil {
				return err
			}
		}
		return nil
	}
}

// flushForeignKeys owner 首次保存获得主键后，为绑定时尚无外键的目标补写外键；
// 已持久化的目标立即保存。
func flushForeignKeys(a *Association) document.Hook {
	return func(ctx context.Context, d *document.Document) error {
		targets, err := loadedTargets(a, d)
		if err != nil {
			return err
		}
		key := a.ConvertToForeignKey(d.Get(a.PrimaryKey()))
		for _, t := range targets {
			if document.EqualValues(t.Get(a.ForeignKey()), key) {
				continue
			}
			t.Set(a.ForeignKey(), key)
			if tf := a.TypeField(); tf != "" {
				t.Set(tf, d.Model().Name())
			}
			if t.Persisted() {
				if err := document.Save(ctx, t); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// applyDependent owner 销毁前处理关联文档
func applyDependent(ctx context.Context, a *Association, d *document.Document) error {
	if a.Many() {
		m, err := manyFor(d, a)
		if err != nil {
			return err
		}
		if a.Dependent() == DependentNullify {
			return m.Nullify(ctx)
		}
		docs, err := m.All(ctx)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := removeDependent(ctx, a, doc); err != nil {
				return err
			}
		}
		m.docs = nil
		return nil
	}
	target, err := LoadOne(withoutAutobuild(ctx), d, a.name)
	if err != nil || target == nil {
		return err
	}
	if a.Dependent() == DependentNullify {
		if err := unbind(a, d, target); err != nil {
			return err
		}
		d.SetRelation(a.name, nil)
		if !target.Persisted() {
			return nil
		}
		return document.Save(document.WithoutValidation(ctx), target)
	}
	return removeDependent(ctx, a, target)
}

// removeDependent 按 dependent 选项销毁或删除目标
func removeDependent(ctx context.Context, a *Association, doc *document.Document) error {
	switch a.Dependent() {
	case DependentDestroy:
		return document.Destroy(ctx, doc)
	case DependentDelete:
		return document.Delete(ctx, doc)
	}
	return nil
}

func restrictDependent(a *Association) document.Hook {
	return func(ctx context.Context, d *document.Document) error {
		exists, err := Exists(withoutAutobuild(ctx), d, a.name)
		if err != nil || !exists {
			return err
		}
		return errors.NewError(errors.ErrCodeDependency,
			fmt.Sprintf("association: cannot destroy %s because dependent %s exist", d, a.name)).
			WithDetails(map[string]any{"owner": a.owner.Name(), "relation": a.name})
	}
}

// changeCounter 以 $inc 更新父文档计数，并同步内存中已加载的父文档
func changeCounter(ctx context.Context, a *Association, d *document.Document, key, typ any, delta int64) error {
	if key == nil {
		return nil
	}
	cls, err := counterClass(a, typ)
	if err != nil || cls == nil {
		return err
	}
	id, err := parentID(ctx, a, cls, key)
	if err != nil || id == nil {
		return err
	}
	coll, err := cls.Collection()
	if err != nil {
		return err
	}
	field := a.CounterCacheField()
	if err := coll.UpdateOne(ctx, id, bson.M{"$inc": bson.M{field: delta}}); err != nil {
		return errors.WrapDatabaseError(ctx, err, "counter_cache", logging.Model(cls.Name()), logging.Relation(a.name))
	}
	if cached, ok := d.Relation(a.name); ok {
		if p, _ := cached.(*One); p != nil && p.target != nil && document.EqualValues(p.target.ID(), id) {
			p.target.SyncAttribute(field, cast.ToInt64(p.target.Get(field))+delta)
		}
	}
	return nil
}

func counterClass(a *Association, typ any) (*document.Model, error) {
	if !a.opts.Polymorphic {
		return a.RelationClass()
	}
	name, _ := typ.(string)
	if name == "" {
		return nil, nil
	}
	m, ok := a.owner.Registry().Model(name)
	if !ok {
		return nil, configurationError(a.owner, a.name, "polymorphic type %s is not registered", name)
	}
	return m, nil
}

// parentID 自定义主键时先查询父文档的 _id
func parentID(ctx context.Context, a *Association, cls *document.Model, key any) (any, error) {
	if a.PrimaryKey() == "_id" {
		return key, nil
	}
	parent, err := document.FindOne(ctx, cls, bson.D{{Key: a.PrimaryKey(), Value: key}})
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parent.ID(), nil
}

// adjustEmbeddedCounter embedded_in 计数只修改父文档内存属性，随根文档保存
func adjustEmbeddedCounter(a *Association, parent *document.Document, delta int64) {
	field := a.CounterCacheField()
	if field == "" || parent == nil {
		return
	}
	parent.Set(field, cast.ToInt64(parent.Get(field))+delta)
}

func touchTime(a *Association) time.Time {
	return a.owner.Registry().Config().Now().UTC().Truncate(time.Millisecond)
}

func touchFields(a *Association) []string {
	fields := []string{"updated_at"}
	if f := a.TouchField(); f != "" && f != "updated_at" {
		fields = append(fields, f)
	}
	return fields
}

// touchParent belongs_to 保存或删除后更新父文档时间戳
func touchParent(a *Association) document.Hook {
	return func(ctx context.Context, d *document.Document) error {
		parent, err := LoadOne(withoutAutobuild(ctx), d, a.name)
		if err != nil || parent == nil || !parent.Persisted() {
			return err
		}
		coll, err := parent.Model().Collection()
		if err != nil {
			return err
		}
		now := touchTime(a)
		set := bson.M{}
		for _, f := range touchFields(a) {
			set[f] = now
		}
		if err := coll.UpdateOne(ctx, parent.ID(), bson.M{"$set": set}); err != nil {
			return errors.WrapDatabaseError(ctx, err, "touch", logging.Model(parent.Model().Name()), logging.Relation(a.name))
		}
		for f, v := range set {
			parent.SyncAttribute(f, v)
		}
		return nil
	}
}

// touchEmbeddedParent 内嵌文档保存或删除前更新父文档时间戳，随根文档写入
func touchEmbeddedParent(a *Association) document.Hook {
	return func(ctx context.Context, d *document.Document) error {
		parent := d.Parent()
		if parent == nil {
			return nil
		}
		now := touchTime(a)
		for _, f := range touchFields(a) {
			parent.Set(f, now)
		}
		return nil
	}
}

func childAfterKind(child *document.Document) document.HookKind {
	if child.NewRecord() {
		return document.AfterCreate
	}
	return document.AfterUpdate
}

// cascadeHook 父文档的回调同时作用于内嵌文档
func cascadeHook(a *Association, kind func(*document.Document) document.HookKind) document.Hook {
	return func(ctx context.Context, d *document.Document) error {
		targets, err := loadedTargets(a, d)
		if err != nil {
			return err
		}
		for _, child := range targets {
			if err := child.Model().RunHooks(ctx, kind(child), child); err != nil {
				return err
			}
		}
		return nil
	}
}
