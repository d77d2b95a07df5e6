package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
)

func drain(t *testing.T, cur document.ICursor) []bson.M {
	t.Helper()
	ctx := context.Background()
	defer cur.Close(ctx)
	var out []bson.M
	for cur.Next(ctx) {
		var m bson.M
		require.NoError(t, cur.Decode(&m))
		out = append(out, m)
	}
	require.NoError(t, cur.Err())
	return out
}

// TestCollection_CRUD 测试基本读写
func TestCollection_CRUD(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("flowers")

	id := bson.NewObjectID()
	require.NoError(t, coll.InsertOne(ctx, bson.M{"_id": id, "name": "rose"}))

	err := coll.InsertOne(ctx, bson.M{"_id": id, "name": "dup"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeDuplicate))

	require.NoError(t, coll.ReplaceOne(ctx, id, bson.M{"name": "lily"}))
	require.NoError(t, coll.UpdateOne(ctx, id, bson.M{"$inc": bson.M{"petals_count": 1}}))

	docs := drain(t, mustFind(t, coll, bson.D{{Key: "_id", Value: id}}))
	require.Len(t, docs, 1)
	assert.Equal(t, "lily", docs[0]["name"])
	assert.Equal(t, int64(1), docs[0]["petals_count"])
	assert.Equal(t, id, docs[0]["_id"])

	err = coll.ReplaceOne(ctx, bson.NewObjectID(), bson.M{})
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, coll.DeleteOne(ctx, id))
	assert.Empty(t, drain(t, mustFind(t, coll, nil)))
}

func mustFind(t *testing.T, coll document.ICollection, filter bson.D) document.ICursor {
	t.Helper()
	cur, err := coll.Find(context.Background(), filter, document.FindOptions{})
	require.NoError(t, err)
	return cur
}

// TestCollection_Isolation 测试读写互不共享内存
func TestCollection_Isolation(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("flowers")
	input := bson.M{"_id": 1, "meta": bson.M{"color": "red"}}
	require.NoError(t, coll.InsertOne(ctx, input))
	input["meta"].(bson.M)["color"] = "blue"

	docs := drain(t, mustFind(t, coll, nil))
	docs[0]["meta"].(bson.M)["color"] = "green"

	again := drain(t, mustFind(t, coll, nil))
	assert.Equal(t, "red", again[0]["meta"].(bson.M)["color"])
}

// TestCollection_AggregateLookup 测试跨集合 $lookup
func TestCollection_AggregateLookup(t *testing.T) {
	ctx := context.Background()
	db := New()
	require.NoError(t, db.Collection("posts").InsertOne(ctx, bson.M{"_id": "p1", "title": "hello"}))
	require.NoError(t, db.Collection("comments").InsertOne(ctx, bson.M{"_id": "c1", "post_id": "p1"}))
	require.NoError(t, db.Collection("comments").InsertOne(ctx, bson.M{"_id": "c2", "post_id": "p1"}))

	cur, err := db.Collection("posts").Aggregate(ctx, []bson.D{
		{{Key: "$lookup", Value: bson.M{"from": "comments", "localField": "_id", "foreignField": "post_id", "as": "comments"}}},
	}, document.AggregateOptions{})
	require.NoError(t, err)

	docs := drain(t, cur)
	require.Len(t, docs, 1)
	assert.Len(t, docs[0]["comments"], 2)
}

// TestCollection_Concurrent 测试并发写入
func TestCollection_Concurrent(t *testing.T) {
	ctx := context.Background()
	coll := New().collection("petals")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, coll.InsertOne(ctx, bson.M{"_id": i}))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, coll.Count())
}
