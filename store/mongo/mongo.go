// Package mongo 将 document.IDatabase 适配到 go.mongodb.org/mongo-driver/v2
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"docbind/document"
	"docbind/errors"
	"docbind/logging"
)

// Config 连接配置
type Config struct {
	URI      string
	Database string

	MaxPoolSize    uint64
	MinPoolSize    uint64
	ConnectTimeout time.Duration
}

// DefaultConfig 本地默认配置
func DefaultConfig() Config {
	return Config{URI: "mongodb://localhost:27017", Database: "docbind", ConnectTimeout: 10 * time.Second}
}

// Database MongoDB 数据库
type Database struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ document.IDatabase = (*Database)(nil)

// Connect 连接并 ping
func Connect(ctx context.Context, cfg Config) (*Database, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "mongo: connect failed")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.WrapDatabaseError(ctx, err, "ping")
	}
	name := cfg.Database
	if name == "" {
		name = "docbind"
	}
	logging.GetLogger().Info(ctx, "mongo connected", logging.String("database", name))
	return &Database{client: client, db: client.Database(name)}, nil
}

// Disconnect 断开连接
func (d *Database) Disconnect(ctx context.Context) error { return d.client.Disconnect(ctx) }

// Drop 删除数据库
func (d *Database) Drop(ctx context.Context) error { return d.db.Drop(ctx) }

// Collection 返回集合
func (d *Database) Collection(name string) document.ICollection {
	return &Collection{coll: d.db.Collection(name)}
}

// EnsureIndexes 为注册表中每个模型声明的索引建立索引
func (d *Database) EnsureIndexes(ctx context.Context, reg *document.Registry) error {
	for _, m := range reg.Models() {
		idx := m.Indexes()
		if len(idx) == 0 || m.IsEmbedded() {
			continue
		}
		models := make([]mongo.IndexModel, 0, len(idx))
		for _, i := range idx {
			models = append(models, mongo.IndexModel{Keys: i.Keys, Options: options.Index().SetSparse(i.Sparse)})
		}
		if _, err := d.db.Collection(m.CollectionName()).Indexes().CreateMany(ctx, models); err != nil {
			return errors.WrapDatabaseError(ctx, err, "create indexes", logging.Model(m.Name()))
		}
	}
	return nil
}

// Collection MongoDB 集合
type Collection struct {
	coll *mongo.Collection
}

var _ document.ICollection = (*Collection)(nil)

func (c *Collection) Name() string { return c.coll.Name() }

func (c *Collection) Find(ctx context.Context, filter bson.D, opts document.FindOptions) (document.ICursor, error) {
	if filter == nil {
		filter = bson.D{}
	}
	fo := options.Find()
	if len(opts.Sort) > 0 {
		fo.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	cur, err := c.coll.Find(ctx, filter, fo)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c *Collection) Aggregate(ctx context.Context, pipeline []bson.D, opts document.AggregateOptions) (document.ICursor, error) {
	ao := options.Aggregate()
	if opts.AllowDiskUse != nil {
		ao.SetAllowDiskUse(*opts.AllowDiskUse)
	}
	if opts.BatchSize != nil {
		ao.SetBatchSize(*opts.BatchSize)
	}
	if opts.Comment != nil {
		ao.SetComment(opts.Comment)
	}
	if opts.Let != nil {
		ao.SetLet(opts.Let)
	}
	cur, err := c.coll.Aggregate(ctx, mongo.Pipeline(pipeline), ao)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c *Collection) InsertOne(ctx context.Context, doc bson.M) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c *Collection) ReplaceOne(ctx context.Context, id any, doc bson.M) error {
	res, err := c.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (c *Collection) UpdateOne(ctx context.Context, id any, update bson.M) error {
	_, err := c.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	return err
}

func (c *Collection) DeleteOne(ctx context.Context, id any) error {
	_, err := c.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	return err
}
