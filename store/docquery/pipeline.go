package docquery

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
)

// Resolver 为 $lookup 提供外部集合的全部文档
type Resolver func(ctx context.Context, collection string) ([]bson.M, error)

// Filter 返回匹配条件的文档副本
func Filter(docs []bson.M, filter any) ([]bson.M, error) {
	var out []bson.M
	for _, d := range docs {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, document.CopyM(d))
		}
	}
	return out, nil
}

// Find 依次执行过滤、排序、跳过与截取
func Find(docs []bson.M, filter bson.D, opts document.FindOptions) ([]bson.M, error) {
	out, err := Filter(docs, filter)
	if err != nil {
		return nil, err
	}
	Sort(out, opts.Sort)
	return window(out, opts.Skip, opts.Limit), nil
}

func window(docs []bson.M, skip, limit int64) []bson.M {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

// Run 执行聚合管道
//
// 支持 $match $sort $skip $limit $count $project $addFields $set $unwind $lookup，
// 其余阶段返回 ErrUnsupported。
func Run(ctx context.Context, docs []bson.M, stages []bson.D, resolve Resolver) ([]bson.M, error) {
	current := make([]bson.M, len(docs))
	for i, d := range docs {
		current[i] = document.CopyM(d)
	}
	for _, stage := range stages {
		if len(stage) != 1 {
			return nil, fmt.Errorf("docquery: pipeline stage must have exactly one operator, got %d", len(stage))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		current, err = runStage(ctx, current, stage[0], resolve)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func runStage(ctx context.Context, docs []bson.M, stage bson.E, resolve Resolver) ([]bson.M, error) {
	switch stage.Key {
	case "$match":
		return Filter(docs, stage.Value)
	case "$sort":
		Sort(docs, stage.Value)
		return docs, nil
	case "$skip":
		n, _ := toFloat(stage.Value)
		return window(docs, int64(n), 0), nil
	case "$limit":
		n, _ := toFloat(stage.Value)
		return window(docs, 0, int64(n)), nil
	case "$count":
		field, ok := stage.Value.(string)
		if !ok {
			return nil, fmt.Errorf("docquery: $count requires a field name")
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return []bson.M{{field: int64(len(docs))}}, nil
	case "$project":
		return project(docs, stage.Value)
	case "$addFields", "$set":
		fields, ok := document.ToM(stage.Value)
		if !ok {
			return nil, fmt.Errorf("docquery: %s requires a document", stage.Key)
		}
		for _, d := range docs {
			for k, v := range fields {
				if s, ok := v.(string); ok && len(s) > 1 && s[0] == '$' {
					v, _ = Lookup(d, s[1:])
				}
				setPath(d, k, v)
			}
		}
		return docs, nil
	case "$unwind":
		return unwind(docs, stage.Value)
	case "$lookup":
		return lookup(ctx, docs, stage.Value, resolve)
	default:
		return nil, unsupported(stage.Key)
	}
}

func project(docs []bson.M, spec any) ([]bson.M, error) {
	fields, ok := document.ToM(spec)
	if !ok {
		return nil, fmt.Errorf("docquery: $project requires a document")
	}
	include := false
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		if truthy(v) {
			include = true
		}
	}
	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		if !include {
			p := document.CopyM(d)
			for k, v := range fields {
				if !truthy(v) {
					delete(p, k)
				}
			}
			out = append(out, p)
			continue
		}
		p := bson.M{}
		if v, ok := fields["_id"]; !ok || truthy(v) {
			if id, ok := d["_id"]; ok {
				p["_id"] = id
			}
		}
		for k, v := range fields {
			if k == "_id" || !truthy(v) {
				continue
			}
			if val, ok := Lookup(d, k); ok {
				setPath(p, k, val)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	}
	f, ok := toFloat(v)
	return !ok || f != 0
}

func unwind(docs []bson.M, spec any) ([]bson.M, error) {
	path, ok := spec.(string)
	preserve := false
	if !ok {
		opts, isDoc := document.ToM(spec)
		if !isDoc {
			return nil, fmt.Errorf("docquery: $unwind requires a path")
		}
		path, _ = opts["path"].(string)
		preserve, _ = opts["preserveNullAndEmptyArrays"].(bool)
	}
	if len(path) < 2 || path[0] != '$' {
		return nil, fmt.Errorf("docquery: $unwind path must start with $")
	}
	field := path[1:]
	var out []bson.M
	for _, d := range docs {
		v, present := Lookup(d, field)
		arr, isArr := document.ToSlice(v)
		if !present || v == nil || (isArr && len(arr) == 0) {
			if preserve {
				out = append(out, d)
			}
			continue
		}
		if !isArr {
			out = append(out, d)
			continue
		}
		for _, item := range arr {
			copied := document.CopyM(d)
			setPath(copied, field, item)
			out = append(out, copied)
		}
	}
	return out, nil
}

func lookup(ctx context.Context, docs []bson.M, spec any, resolve Resolver) ([]bson.M, error) {
	opts, ok := document.ToM(spec)
	if !ok {
		return nil, fmt.Errorf("docquery: $lookup requires a document")
	}
	from, _ := opts["from"].(string)
	local, _ := opts["localField"].(string)
	foreign, _ := opts["foreignField"].(string)
	as, _ := opts["as"].(string)
	if from == "" || local == "" || foreign == "" || as == "" {
		return nil, fmt.Errorf("docquery: $lookup requires from, localField, foreignField and as")
	}
	if resolve == nil {
		return nil, unsupported("$lookup")
	}
	joined, err := resolve(ctx, from)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		lv, _ := Lookup(d, local)
		matches := bson.A{}
		for _, j := range joined {
			fv, _ := Lookup(j, foreign)
			if joinEquals(lv, fv) {
				matches = append(matches, document.CopyM(j))
			}
		}
		d[as] = matches
	}
	return docs, nil
}

// joinEquals 两侧任一为数组时按元素匹配，缺失值与 nil 互相匹配
func joinEquals(a, b any) bool {
	if arr, ok := document.ToSlice(a); ok {
		for _, v := range arr {
			if equals(b, v) {
				return true
			}
		}
		return false
	}
	return equals(b, a)
}
