package document

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/errors"
	"docbind/logging"
)

type ctxKey int

const (
	validatingKey ctxKey = iota
	skipValidationKey
)

// WithoutValidation 跳过保存前校验
func WithoutValidation(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipValidationKey, true)
}

func validationSkipped(ctx context.Context) bool {
	v, _ := ctx.Value(skipValidationKey).(bool)
	return v
}

type visitSet map[*Document]struct{}

// Validate 运行模型校验器，同一调用链中每个文档只校验一次
func Validate(ctx context.Context, d *Document) error {
	visited, _ := ctx.Value(validatingKey).(visitSet)
	if visited == nil {
		visited = make(visitSet)
		ctx = context.WithValue(ctx, validatingKey, visited)
	}
	if _, seen := visited[d]; seen {
		return nil
	}
	visited[d] = struct{}{}

	var messages []string
	for _, v := range d.model.snapshotValidators() {
		err := v(ctx, d)
		if err == nil {
			continue
		}
		appErr, ok := err.(errors.IError)
		switch {
		case !ok:
			messages = append(messages, err.Error())
		case appErr.Code() == errors.ErrCodeValidation:
			if msgs, ok := appErr.Details()["errors"].([]string); ok {
				messages = append(messages, msgs...)
			} else {
				messages = append(messages, appErr.Message())
			}
		default:
			// 存储错误等非校验错误直接返回
			return err
		}
	}
	if len(messages) == 0 {
		return nil
	}
	return errors.NewError(errors.ErrCodeValidation,
		fmt.Sprintf("document: %s is invalid", d)).
		WithDetails(map[string]any{"model": d.model.name, "errors": messages})
}

// Save 保存文档；内嵌文档通过保存根文档持久化
func Save(ctx context.Context, d *Document) error {
	if d.destroyed {
		return errors.NewError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("document: cannot save destroyed %s", d))
	}
	if !validationSkipped(ctx) {
		if err := Validate(ctx, d); err != nil {
			return err
		}
		ctx = WithoutValidation(ctx)
	}
	if d.parent != nil {
		return saveEmbedded(ctx, d)
	}
	if d.model.IsEmbedded() && !d.model.Cyclic() {
		return errors.NewError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("document: embedded %s cannot be saved without a parent", d))
	}

	if err := d.model.RunHooks(ctx, BeforeSave, d); err != nil {
		return err
	}
	coll, err := d.model.Collection()
	if err != nil {
		return err
	}
	logger := d.model.registry.Logger()

	created := d.newRecord
	if created {
		if err := assignIDs(d); err != nil {
			return err
		}
		raw, embedded, err := d.Serialize()
		if err != nil {
			return err
		}
		if err := coll.InsertOne(ctx, raw); err != nil {
			return errors.WrapDatabaseError(ctx, err, "insert", logging.Model(d.model.name))
		}
		logger.Debug(ctx, "document inserted", logging.Model(d.model.name), logging.Any("id", d.ID()))
		d.newRecord = false
		if err := runAfter(ctx, d, AfterCreate); err != nil {
			return err
		}
		d.markPersisted(embedded)
		return nil
	}

	if err := assignIDs(d); err != nil {
		return err
	}
	raw, embedded, err := d.Serialize()
	if err != nil {
		return err
	}
	if err := coll.ReplaceOne(ctx, d.ID(), raw); err != nil {
		return errors.WrapDatabaseError(ctx, err, "replace", logging.Model(d.model.name))
	}
	logger.Debug(ctx, "document replaced", logging.Model(d.model.name), logging.Any("id", d.ID()))
	if err := runAfter(ctx, d, AfterUpdate); err != nil {
		return err
	}
	d.markPersisted(embedded)
	return nil
}

// runAfter 在快照重置前执行 after 回调，回调内仍可读取 Changed/Was
func runAfter(ctx context.Context, d *Document, kind HookKind) error {
	if err := d.model.RunHooks(ctx, kind, d); err != nil {
		return err
	}
	return d.model.RunHooks(ctx, AfterSave, d)
}

func saveEmbedded(ctx context.Context, d *Document) error {
	if err := d.model.RunHooks(ctx, BeforeSave, d); err != nil {
		return err
	}
	created := d.newRecord
	if err := Save(ctx, d.Root()); err != nil {
		return err
	}
	kind := AfterUpdate
	if created {
		kind = AfterCreate
	}
	return runAfter(ctx, d, kind)
}

// assignIDs 为根文档与尚无主键的内嵌文档分配主键
func assignIDs(d *Document) error {
	if d.ID() == nil {
		id, err := d.model.NewID()
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeInternal, "document: id generation failed")
		}
		d.attrs["_id"] = id
	}
	return nil
}

// AssignID 预先为文档分配主键（内嵌文档序列化时使用）
func AssignID(d *Document) error { return assignIDs(d) }

// Destroy 运行销毁回调后删除文档
func Destroy(ctx context.Context, d *Document) error {
	if d.destroyed {
		return nil
	}
	if err := d.model.RunHooks(ctx, BeforeDestroy, d); err != nil {
		return err
	}
	if err := remove(ctx, d); err != nil {
		return err
	}
	return d.model.RunHooks(ctx, AfterDestroy, d)
}

// Delete 不运行回调直接删除文档
func Delete(ctx context.Context, d *Document) error {
	if d.destroyed {
		return nil
	}
	return remove(ctx, d)
}

func remove(ctx context.Context, d *Document) error {
	if d.parent != nil {
		root := d.Root()
		for _, detach := range d.model.snapshotDetachers() {
			if err := detach(ctx, d); err != nil {
				return err
			}
		}
		d.destroyed = true
		if root != d && root.Persisted() {
			return Save(WithoutValidation(ctx), root)
		}
		return nil
	}
	if !d.newRecord {
		coll, err := d.model.Collection()
		if err != nil {
			return err
		}
		if err := coll.DeleteOne(ctx, d.ID()); err != nil && !errors.IsNotFound(errors.Normalize(err)) {
			return errors.WrapDatabaseError(ctx, err, "delete", logging.Model(d.model.name))
		}
		d.model.registry.Logger().Debug(ctx, "document deleted", logging.Model(d.model.name), logging.Any("id", d.ID()))
	}
	d.destroyed = true
	return nil
}

// Reload 从存储重新读取属性并清空关联缓存
func Reload(ctx context.Context, d *Document) error {
	if d.parent != nil {
		return errors.NewError(errors.ErrCodeUnsupportedOperation,
			fmt.Sprintf("document: reload embedded %s through its root", d))
	}
	fresh, err := FindByID(ctx, d.model, d.ID())
	if err != nil {
		return err
	}
	d.attrs = fresh.attrs
	d.original = CopyM(fresh.attrs)
	d.newRecord = false
	d.relations = make(map[string]any)
	return nil
}

// Create 创建并保存文档
func Create(ctx context.Context, m *Model, attrs bson.M) (*Document, error) {
	d := New(m, attrs)
	if err := Save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Find 按过滤条件查询
func Find(ctx context.Context, m *Model, filter bson.D, opts FindOptions) ([]*Document, error) {
	coll, err := m.Collection()
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "find", logging.Model(m.name))
	}
	defer cur.Close(ctx)

	var out []*Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, errors.WrapDatabaseError(ctx, err, "decode", logging.Model(m.name))
		}
		out = append(out, Instantiate(m, raw))
	}
	if err := cur.Err(); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "cursor", logging.Model(m.name))
	}
	return out, nil
}

// FindOne 返回第一条匹配文档，不存在时返回 NOT_FOUND 错误
func FindOne(ctx context.Context, m *Model, filter bson.D) (*Document, error) {
	docs, err := Find(ctx, m, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.NewError(errors.ErrCodeNotFound,
			fmt.Sprintf("document: %s not found", m.name)).WithContext("filter", filter)
	}
	return docs[0], nil
}

// FindByID 按主键查询
func FindByID(ctx context.Context, m *Model, id any) (*Document, error) {
	if id == nil {
		return nil, errors.NewError(errors.ErrCodeNotFound,
			fmt.Sprintf("document: %s not found", m.name))
	}
	return FindOne(ctx, m, bson.D{{Key: "_id", Value: id}})
}
