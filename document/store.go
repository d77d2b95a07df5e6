package document

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// FindOptions 查询选项
type FindOptions struct {
	Sort  bson.D
	Skip  int64
	Limit int64
}

// AggregateOptions 聚合执行选项，字段为 nil 表示使用驱动默认值
type AggregateOptions struct {
	AllowDiskUse *bool
	BatchSize    *int32
	Comment      any
	Let          bson.M
}

// ICursor 结果游标，方法集与 *mongo.Cursor 一致
type ICursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// ICollection 文档集合抽象
//
// id 参数为文档的 _id 值；update 只需支持 $set 与 $inc。
type ICollection interface {
	Name() string
	Find(ctx context.Context, filter bson.D, opts FindOptions) (ICursor, error)
	Aggregate(ctx context.Context, pipeline []bson.D, opts AggregateOptions) (ICursor, error)
	InsertOne(ctx context.Context, doc bson.M) error
	ReplaceOne(ctx context.Context, id any, doc bson.M) error
	UpdateOne(ctx context.Context, id any, update bson.M) error
	DeleteOne(ctx context.Context, id any) error
}

// IDatabase 集合工厂
type IDatabase interface {
	Collection(name string) ICollection
}
