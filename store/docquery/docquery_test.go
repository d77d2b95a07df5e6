package docquery

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
)

func petals() []bson.M {
	return []bson.M{
		{"_id": 1, "name": "a", "flower_id": "f1", "position": int64(2), "tags": bson.A{"red", "big"}},
		{"_id": 2, "name": "b", "flower_id": "f1", "position": int64(1)},
		{"_id": 3, "name": "c", "flower_id": "f2", "position": int64(3)},
		{"_id": 4, "name": "d"},
	}
}

func ids(docs []bson.M) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d["_id"]
	}
	return out
}

// TestMatch 测试过滤条件求值
func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter bson.D
		want   []any
	}{
		{name: "等值", filter: bson.D{{Key: "flower_id", Value: "f1"}}, want: []any{1, 2}},
		{name: "数组包含", filter: bson.D{{Key: "tags", Value: "red"}}, want: []any{1}},
		{name: "in", filter: bson.D{{Key: "flower_id", Value: bson.M{"$in": bson.A{"f2", "f3"}}}}, want: []any{3}},
		{name: "nil匹配缺失", filter: bson.D{{Key: "flower_id", Value: nil}}, want: []any{4}},
		{name: "exists", filter: bson.D{{Key: "tags", Value: bson.M{"$exists": false}}}, want: []any{2, 3, 4}},
		{name: "ne", filter: bson.D{{Key: "flower_id", Value: bson.M{"$ne": "f1"}}}, want: []any{3, 4}},
		{name: "gte", filter: bson.D{{Key: "position", Value: bson.M{"$gte": 2}}}, want: []any{1, 3}},
		{name: "or", filter: bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: "a"}},
			bson.D{{Key: "name", Value: "d"}},
		}}}, want: []any{1, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(petals(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

// TestMatch_Unsupported 测试未知操作符
func TestMatch_Unsupported(t *testing.T) {
	_, err := Match(bson.M{"a": 1}, bson.D{{Key: "a", Value: bson.M{"$regex": "x"}}})
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, ErrUnsupported))
}

// TestFind_SortSkipLimit 测试排序与分页
func TestFind_SortSkipLimit(t *testing.T) {
	got, err := Find(petals(), nil, document.FindOptions{
		Sort:  bson.D{{Key: "position", Value: 1}},
		Skip:  1,
		Limit: 2,
	})
	require.NoError(t, err)
	// 缺失 position 的文档排在最前
	assert.Equal(t, []any{2, 1}, ids(got))
}

// TestApplyUpdate 测试 $set / $inc
func TestApplyUpdate(t *testing.T) {
	doc := bson.M{"name": "rose", "petals_count": int64(1)}
	require.NoError(t, ApplyUpdate(doc, bson.M{
		"$set": bson.M{"updated_at": "now", "meta.color": "red"},
		"$inc": bson.M{"petals_count": 2, "views": 1},
	}))

	want := bson.M{
		"name":         "rose",
		"petals_count": int64(3),
		"views":        int64(1),
		"updated_at":   "now",
		"meta":         bson.M{"color": "red"},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("更新结果不符 (-want +got):\n%s", diff)
	}
}

// TestRun_LookupAndCount 测试 $lookup 与 $count
func TestRun_LookupAndCount(t *testing.T) {
	flowers := []bson.M{{"_id": "f1", "name": "rose"}, {"_id": "f2", "name": "lily"}, {"_id": "f3", "name": "iris"}}
	resolve := func(ctx context.Context, name string) ([]bson.M, error) {
		assert.Equal(t, "petals", name)
		return petals(), nil
	}

	out, err := Run(context.Background(), flowers, []bson.D{
		{{Key: "$lookup", Value: bson.M{"from": "petals", "localField": "_id", "foreignField": "flower_id", "as": "petals"}}},
		{{Key: "$sort", Value: bson.D{{Key: "name", Value: 1}}}},
	}, resolve)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "iris", out[0]["name"])
	assert.Len(t, out[0]["petals"], 0)
	assert.Len(t, out[1]["petals"], 1)
	assert.Len(t, out[2]["petals"], 2)

	counted, err := Run(context.Background(), petals(), []bson.D{
		{{Key: "$match", Value: bson.D{{Key: "flower_id", Value: "f1"}}}},
		{{Key: "$count", Value: "total"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"total": int64(2)}}, counted)
}

// TestRun_ProjectUnwind 测试投影与展开
func TestRun_ProjectUnwind(t *testing.T) {
	out, err := Run(context.Background(), petals()[:1], []bson.D{
		{{Key: "$unwind", Value: "$tags"}},
		{{Key: "$project", Value: bson.M{"tags": 1, "_id": 0}}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"tags": "red"}, {"tags": "big"}}, out)

	_, err = Run(context.Background(), petals(), []bson.D{{{Key: "$facet", Value: bson.M{}}}}, nil)
	assert.True(t, stdErrors.Is(err, ErrUnsupported))
}

// TestSliceCursor 测试游标解码
func TestSliceCursor(t *testing.T) {
	ctx := context.Background()
	cur := NewSliceCursor([]bson.M{{"_id": 1, "name": "a"}, {"_id": 2, "name": "b"}})
	assert.Equal(t, 2, cur.Remaining())

	var names []string
	for cur.Next(ctx) {
		var out struct {
			Name string `bson:"name"`
		}
		require.NoError(t, cur.Decode(&out))
		names = append(names, out.Name)
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close(ctx))
	assert.Equal(t, []string{"a", "b"}, names)
	assert.False(t, cur.Next(ctx))
}
