// Package memory 提供线程安全的内存文档存储，用于测试与嵌入式场景
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
	"docbind/store/docquery"
)

// Database 内存数据库
type Database struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

var _ document.IDatabase = (*Database)(nil)

// New 创建内存数据库
func New() *Database {
	return &Database{collections: make(map[string]*Collection)}
}

// Collection 返回集合，不存在时创建
func (db *Database) Collection(name string) document.ICollection {
	return db.collection(name)
}

func (db *Database) collection(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.collections[name]
	if !ok {
		c = &Collection{db: db, name: name}
		db.collections[name] = c
	}
	return c
}

// Drop 清空全部集合
func (db *Database) Drop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.collections = make(map[string]*Collection)
}

// Collection 内存集合，按插入顺序保存文档
type Collection struct {
	db   *Database
	name string

	mu   sync.RWMutex
	docs []bson.M
}

var _ document.ICollection = (*Collection)(nil)

func (c *Collection) Name() string { return c.name }

// Count 文档数量
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func (c *Collection) snapshot() []bson.M {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]bson.M, len(c.docs))
	for i, d := range c.docs {
		out[i] = document.CopyM(d)
	}
	return out
}

func (c *Collection) Find(ctx context.Context, filter bson.D, opts document.FindOptions) (document.ICursor, error) {
	docs, err := docquery.Find(c.snapshot(), filter, opts)
	if err != nil {
		return nil, err
	}
	return docquery.NewSliceCursor(docs), nil
}

func (c *Collection) Aggregate(ctx context.Context, pipeline []bson.D, opts document.AggregateOptions) (document.ICursor, error) {
	docs, err := docquery.Run(ctx, c.snapshot(), pipeline, func(ctx context.Context, name string) ([]bson.M, error) {
		return c.db.collection(name).snapshot(), nil
	})
	if err != nil {
		return nil, err
	}
	return docquery.NewSliceCursor(docs), nil
}

func (c *Collection) indexOf(id any) int {
	for i, d := range c.docs {
		if document.EqualValues(d["_id"], id) {
			return i
		}
	}
	return -1
}

func (c *Collection) InsertOne(ctx context.Context, doc bson.M) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := doc["_id"]
	if !ok || id == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "memory: document has no _id")
	}
	if c.indexOf(id) >= 0 {
		return errors.NewError(errors.ErrCodeDuplicate,
			fmt.Sprintf("memory: duplicate _id %v in %s", id, c.name))
	}
	c.docs = append(c.docs, document.CopyM(doc))
	return nil
}

func (c *Collection) ReplaceOne(ctx context.Context, id any, doc bson.M) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return errors.NewError(errors.ErrCodeNotFound,
			fmt.Sprintf("memory: %v not found in %s", id, c.name))
	}
	replacement := document.CopyM(doc)
	replacement["_id"] = c.docs[i]["_id"]
	c.docs[i] = replacement
	return nil
}

// UpdateOne 不存在的文档视为无操作，与 MongoDB updateOne 语义一致
func (c *Collection) UpdateOne(ctx context.Context, id any, update bson.M) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return nil
	}
	updated := document.CopyM(c.docs[i])
	if err := docquery.ApplyUpdate(updated, update); err != nil {
		return err
	}
	c.docs[i] = updated
	return nil
}

func (c *Collection) DeleteOne(ctx context.Context, id any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return nil
	}
	c.docs = append(c.docs[:i], c.docs[i+1:]...)
	return nil
}
