// Package aggregation 提供不可变的聚合管道构建器与关联感知的 $lookup 阶段。
package aggregation

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/association"
	"docbind/document"
	"docbind/errors"
	"docbind/logging"
)

// 支持的阶段操作符
var validOperators = map[string]bool{
	"$collStats": true, "$project": true, "$match": true, "$redact": true,
	"$limit": true, "$skip": true, "$unwind": true, "$group": true,
	"$sample": true, "$sort": true, "$geoNear": true, "$lookup": true,
	"$out": true, "$indexStats": true, "$facet": true, "$bucket": true,
	"$bucketAuto": true, "$sortByCount": true, "$addFields": true,
	"$replaceRoot": true, "$count": true, "$graphLookup": true,
}

// stage 持久化链表节点，追加阶段时共享已有前缀
type stage struct {
	op   string
	expr any
	prev *stage
	n    int
}

type pipelineOptions struct {
	raw    bool
	driver document.AggregateOptions

	lookup   *association.Association
	lookupAs string
}

// Pipeline 聚合管道值
//
// 每个配置方法返回新的 Pipeline，接收者保持不变，可安全共享与组合。
type Pipeline struct {
	model *document.Model
	tail  *stage
	opts  pipelineOptions
}

// New 创建作用于 model 集合的空管道
func New(m *document.Model) Pipeline {
	return Pipeline{model: m}
}

// Model 管道所属模型
func (p Pipeline) Model() *document.Model { return p.model }

func (p Pipeline) push(op string, expr any) Pipeline {
	n := 1
	if p.tail != nil {
		n = p.tail.n + 1
	}
	p.tail = &stage{op: op, expr: expr, prev: p.tail, n: n}
	return p
}

// Append 追加任意受支持的阶段
func (p Pipeline) Append(op string, expr any) (Pipeline, error) {
	if !validOperators[op] {
		return p, errors.NewError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("aggregation: unsupported stage %s", op)).WithContext("operator", op)
	}
	return p.push(op, expr), nil
}

func (p Pipeline) CollStats(spec any) Pipeline   { return p.push("$collStats", spec) }
func (p Pipeline) Project(spec any) Pipeline     { return p.push("$project", spec) }
func (p Pipeline) Match(filter any) Pipeline     { return p.push("$match", filter) }
func (p Pipeline) Redact(expr any) Pipeline      { return p.push("$redact", expr) }
func (p Pipeline) Limit(n int64) Pipeline        { return p.push("$limit", n) }
func (p Pipeline) Skip(n int64) Pipeline         { return p.push("$skip", n) }
func (p Pipeline) Unwind(path any) Pipeline      { return p.push("$unwind", path) }
func (p Pipeline) Group(spec any) Pipeline       { return p.push("$group", spec) }
func (p Pipeline) Sort(spec bson.D) Pipeline     { return p.push("$sort", spec) }
func (p Pipeline) GeoNear(spec any) Pipeline     { return p.push("$geoNear", spec) }
func (p Pipeline) Lookup(spec any) Pipeline      { return p.push("$lookup", spec) }
func (p Pipeline) Out(collection any) Pipeline   { return p.push("$out", collection) }
func (p Pipeline) Facet(spec any) Pipeline       { return p.push("$facet", spec) }
func (p Pipeline) Bucket(spec any) Pipeline      { return p.push("$bucket", spec) }
func (p Pipeline) BucketAuto(spec any) Pipeline  { return p.push("$bucketAuto", spec) }
func (p Pipeline) SortByCount(expr any) Pipeline { return p.push("$sortByCount", expr) }
func (p Pipeline) AddFields(spec any) Pipeline   { return p.push("$addFields", spec) }
func (p Pipeline) Count(field string) Pipeline   { return p.push("$count", field) }
func (p Pipeline) GraphLookup(spec any) Pipeline { return p.push("$graphLookup", spec) }

// Sample 随机抽取 size 个文档
func (p Pipeline) Sample(size int64) Pipeline {
	return p.push("$sample", bson.D{{Key: "size", Value: size}})
}

// IndexStats 索引统计
func (p Pipeline) IndexStats() Pipeline { return p.push("$indexStats", bson.D{}) }

// ReplaceRoot 以 newRoot 表达式替换文档
func (p Pipeline) ReplaceRoot(newRoot any) Pipeline {
	return p.push("$replaceRoot", bson.D{{Key: "newRoot", Value: newRoot}})
}

// LookupRelation 按关联元数据追加 $lookup 并记录关联，用于结果还原
//
// has_one/has_many 以本地主键连接目标外键，belongs_to 以本地外键连接目标主键；
// overrides 覆盖或补充派生出的字段。内嵌关联无需连接。
func (p Pipeline) LookupRelation(name string, overrides bson.M) (Pipeline, error) {
	r, ok := p.model.Relation(name)
	a, _ := r.(*association.Association)
	if !ok || a == nil {
		return p, errors.NewError(errors.ErrCodeConfiguration,
			fmt.Sprintf("aggregation: %s has no relation %s", p.model.Name(), name)).
			WithDetails(map[string]any{"owner": p.model.Name(), "relation": name})
	}
	if a.Embedded() {
		return p, errors.NewError(errors.ErrCodeUnsupportedOperation,
			fmt.Sprintf("aggregation: %s is embedded and needs no lookup", a)).
			WithDetails(map[string]any{"owner": p.model.Name(), "relation": name})
	}
	cls, err := a.RelationClass()
	if err != nil {
		return p, err
	}

	local, foreign := a.PrimaryKey(), a.ForeignKey()
	if a.Macro() == association.BelongsTo {
		local, foreign = a.ForeignKey(), a.PrimaryKey()
	}
	spec := bson.D{
		{Key: "from", Value: cls.CollectionName()},
		{Key: "localField", Value: local},
		{Key: "foreignField", Value: foreign},
		{Key: "as", Value: name},
	}
	spec = mergeSpec(spec, overrides)

	as := name
	for _, e := range spec {
		if e.Key == "as" {
			if s, ok := e.Value.(string); ok {
				as = s
			}
		}
	}
	p = p.push("$lookup", spec)
	p.opts.lookup = a
	p.opts.lookupAs = as
	return p, nil
}

// mergeSpec 覆盖同名键，新增键按名称排序追加
func mergeSpec(spec bson.D, overrides bson.M) bson.D {
	if len(overrides) == 0 {
		return spec
	}
	out := make(bson.D, len(spec))
	copy(out, spec)
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		replaced := false
		for i := range out {
			if out[i].Key == k {
				out[i].Value = overrides[k]
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, bson.E{Key: k, Value: overrides[k]})
		}
	}
	return out
}

// RawResults 结果以原始文档返回
func (p Pipeline) RawResults() Pipeline {
	p.opts.raw = true
	return p
}

// ModelResults 结果还原为模型文档（默认）
func (p Pipeline) ModelResults() Pipeline {
	p.opts.raw = false
	return p
}

// Raw 是否为原始结果模式
func (p Pipeline) Raw() bool { return p.opts.raw }

// LookupAssociation 记录的 $lookup 关联
func (p Pipeline) LookupAssociation() *association.Association { return p.opts.lookup }

// AllowDiskUse 驱动选项 allowDiskUse
func (p Pipeline) AllowDiskUse(v bool) Pipeline {
	p.opts.driver.AllowDiskUse = &v
	return p
}

// BatchSize 驱动选项 batchSize
func (p Pipeline) BatchSize(n int32) Pipeline {
	p.opts.driver.BatchSize = &n
	return p
}

// SetOption 设置驱动选项：allow_disk_use、batch_size、comment、let
func (p Pipeline) SetOption(key string, v any) (Pipeline, error) {
	switch key {
	case "allow_disk_use":
		b, ok := v.(bool)
		if !ok {
			return p, invalidOption(key, v)
		}
		return p.AllowDiskUse(b), nil
	case "batch_size":
		switch n := v.(type) {
		case int:
			return p.BatchSize(int32(n)), nil
		case int32:
			return p.BatchSize(n), nil
		case int64:
			return p.BatchSize(int32(n)), nil
		}
		return p, invalidOption(key, v)
	case "comment":
		p.opts.driver.Comment = v
		return p, nil
	case "let":
		m, ok := document.ToM(v)
		if !ok {
			return p, invalidOption(key, v)
		}
		p.opts.driver.Let = document.CopyM(m)
		return p, nil
	}
	return p, invalidOption(key, v)
}

func invalidOption(key string, v any) error {
	return errors.NewError(errors.ErrCodeInvalidInput,
		fmt.Sprintf("aggregation: invalid option %s=%v", key, v)).WithContext("option", key)
}

// Options 驱动选项副本
func (p Pipeline) Options() document.AggregateOptions {
	o := p.opts.driver
	if o.Let != nil {
		o.Let = document.CopyM(o.Let)
	}
	return o
}

// Len 阶段数
func (p Pipeline) Len() int {
	if p.tail == nil {
		return 0
	}
	return p.tail.n
}

// Stages 按声明顺序返回全部阶段
func (p Pipeline) Stages() []bson.D {
	out := make([]bson.D, p.Len())
	for s := p.tail; s != nil; s = s.prev {
		out[s.n-1] = bson.D{{Key: s.op, Value: s.expr}}
	}
	return out
}

// Execute 在模型集合上执行管道，返回惰性游标；每次调用都会重新执行
func (p Pipeline) Execute(ctx context.Context) (*Cursor, error) {
	coll, err := p.model.Collection()
	if err != nil {
		return nil, err
	}
	stages := p.Stages()
	cur, err := coll.Aggregate(ctx, stages, p.Options())
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "aggregate", logging.Model(p.model.Name()))
	}
	p.model.Registry().Logger().Debug(ctx, "aggregation executed",
		logging.Model(p.model.Name()), logging.Int("stages", len(stages)), logging.Bool("raw", p.opts.raw))
	return &Cursor{cur: cur, pipeline: p}, nil
}

// All 执行并读取全部模型结果
func (p Pipeline) All(ctx context.Context) ([]*document.Document, error) {
	cur, err := p.ModelResults().Execute(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*document.Document
	for cur.Next(ctx) {
		out = append(out, cur.Document())
	}
	return out, cur.Err()
}

// RawAll 执行并读取全部原始结果
func (p Pipeline) RawAll(ctx context.Context) ([]bson.M, error) {
	cur, err := p.RawResults().Execute(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []bson.M
	for cur.Next(ctx) {
		out = append(out, cur.Raw())
	}
	return out, cur.Err()
}
