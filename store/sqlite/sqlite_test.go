package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
	"docbind/errors"
)

func openTest(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

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

// TestCollection_CRUD 测试 sqlite 集合的基本读写
func TestCollection_CRUD(t *testing.T) {
	ctx := context.Background()
	coll := openTest(t).Collection("flowers")

	id := bson.NewObjectID()
	require.NoError(t, coll.InsertOne(ctx, bson.M{"_id": id, "name": "rose",
		"petals": bson.A{bson.M{"_id": bson.NewObjectID(), "color": "red"}}}))

	err := coll.InsertOne(ctx, bson.M{"_id": id, "name": "dup"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeDuplicate), "got %v", err)

	require.NoError(t, coll.UpdateOne(ctx, id, bson.M{"$inc": bson.M{"petals_count": int64(2)}}))

	cur, err := coll.Find(ctx, bson.D{{Key: "name", Value: "rose"}}, document.FindOptions{})
	require.NoError(t, err)
	docs := drain(t, cur)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0]["_id"])
	assert.True(t, document.EqualValues(int64(2), docs[0]["petals_count"]))

	petals, ok := document.ToSlice(docs[0]["petals"])
	require.True(t, ok)
	petal, ok := petals[0].(bson.M)
	require.True(t, ok, "embedded documents decode as bson.M")
	assert.Equal(t, "red", petal["color"])

	require.NoError(t, coll.ReplaceOne(ctx, id, bson.M{"name": "lily"}))
	err = coll.ReplaceOne(ctx, bson.NewObjectID(), bson.M{"name": "none"})
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, coll.DeleteOne(ctx, id))
	cur, err = coll.Find(ctx, nil, document.FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, drain(t, cur))
}

// TestCollection_IDKinds 不同类型的主键互不冲突
func TestCollection_IDKinds(t *testing.T) {
	ctx := context.Background()
	coll := openTest(t).Collection("ids")
	require.NoError(t, coll.InsertOne(ctx, bson.M{"_id": "1"}))
	require.NoError(t, coll.InsertOne(ctx, bson.M{"_id": int64(1)}))

	cur, err := coll.Find(ctx, bson.D{{Key: "_id", Value: int64(1)}}, document.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, drain(t, cur), 1)
}

// TestCollection_AggregateLookup 连接另一集合
func TestCollection_AggregateLookup(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	posts, comments := db.Collection("posts"), db.Collection("comments")
	postID := bson.NewObjectID()
	require.NoError(t, posts.InsertOne(ctx, bson.M{"_id": postID, "title": "hello"}))
	for _, body := range []string{"a", "b"} {
		require.NoError(t, comments.InsertOne(ctx, bson.M{"_id": bson.NewObjectID(), "post_id": postID, "body": body}))
	}

	cur, err := posts.Aggregate(ctx, []bson.D{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "comments"},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "post_id"},
			{Key: "as", Value: "comments"},
		}}},
	}, document.AggregateOptions{})
	require.NoError(t, err)
	docs := drain(t, cur)
	require.Len(t, docs, 1)
	joined, _ := document.ToSlice(docs[0]["comments"])
	assert.Len(t, joined, 2)
}

func TestIsSafeIdentifier(t *testing.T) {
	assert.True(t, isSafeIdentifier("documents"))
	assert.True(t, isSafeIdentifier("_docs_2"))
	assert.False(t, isSafeIdentifier("2docs"))
	assert.False(t, isSafeIdentifier("docs; DROP TABLE x"))
	assert.False(t, isSafeIdentifier(""))
}
