package aggregation_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/aggregation"
	"docbind/association"
	"docbind/document"
	"docbind/errors"
	"docbind/schema"
	"docbind/store/memory"
)

func blog(t *testing.T) *document.Registry {
	t.Helper()
	s := schema.New(memory.New())
	s.Model("Post").Field("title", document.String).HasMany("comments").EmbedsMany("revisions")
	s.Model("Comment").Field("body", document.String).BelongsTo("post")
	s.Model("Revision").EmbeddedIn("post")
	reg, err := s.Build()
	require.NoError(t, err)
	return reg
}

// TestPipeline_Immutable 追加阶段返回新管道，原管道不变
func TestPipeline_Immutable(t *testing.T) {
	reg := blog(t)
	p := aggregation.New(reg.MustModel("Post"))
	filter := bson.D{{Key: "title", Value: "x"}}

	q := p.Match(filter).Limit(5)
	want := []bson.D{
		{{Key: "$match", Value: filter}},
		{{Key: "$limit", Value: int64(5)}},
	}
	if diff := cmp.Diff(want, q.Stages()); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, p.Len())
	assert.Empty(t, p.Stages())

	// 共享前缀的两个分支互不影响
	base := p.Match(filter)
	left, right := base.Skip(1), base.Sort(bson.D{{Key: "title", Value: -1}})
	assert.Equal(t, 1, base.Len())
	assert.Equal(t, "$skip", left.Stages()[1][0].Key)
	assert.Equal(t, "$sort", right.Stages()[1][0].Key)

	opts := p.Sample(3).IndexStats().ReplaceRoot("$doc").Stages()
	assert.Equal(t, bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: int64(3)}}}}, opts[0])
	assert.Equal(t, bson.D{{Key: "$indexStats", Value: bson.D{}}}, opts[1])
	assert.Equal(t, bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$doc"}}}}, opts[2])

	_, err := p.Append("$merge", bson.D{})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))
	appended, err := p.Append("$count", "n")
	require.NoError(t, err)
	assert.Equal(t, 1, appended.Len())
}

func TestPipeline_LookupRelation(t *testing.T) {
	reg := blog(t)
	posts := aggregation.New(reg.MustModel("Post"))

	p, err := posts.LookupRelation("comments", nil)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "comments"},
		{Key: "localField", Value: "_id"},
		{Key: "foreignField", Value: "post_id"},
		{Key: "as", Value: "comments"},
	}}}, p.Stages()[0])
	assert.Equal(t, "comments", p.LookupAssociation().Name())
	assert.Nil(t, posts.LookupAssociation())

	p, err = aggregation.New(reg.MustModel("Comment")).LookupRelation("post", bson.M{"as": "parent", "pipeline": bson.A{}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "from", Value: "posts"},
		{Key: "localField", Value: "post_id"},
		{Key: "foreignField", Value: "_id"},
		{Key: "as", Value: "parent"},
		{Key: "pipeline", Value: bson.A{}},
	}, p.Stages()[0][0].Value)

	_, err = posts.LookupRelation("authors", nil)
	assert.True(t, errors.IsConfiguration(err))
	_, err = posts.LookupRelation("revisions", nil)
	assert.Equal(t, errors.ErrCodeUnsupportedOperation, errors.GetErrorCode(err))
}

func TestPipeline_Options(t *testing.T) {
	reg := blog(t)
	p := aggregation.New(reg.MustModel("Post"))

	q, err := p.SetOption("allow_disk_use", true)
	require.NoError(t, err)
	q, err = q.SetOption("batch_size", 50)
	require.NoError(t, err)
	q, err = q.SetOption("let", bson.M{"min": 2})
	require.NoError(t, err)

	opts := q.Options()
	require.NotNil(t, opts.AllowDiskUse)
	assert.True(t, *opts.AllowDiskUse)
	require.NotNil(t, opts.BatchSize)
	assert.Equal(t, int32(50), *opts.BatchSize)
	assert.Equal(t, bson.M{"min": 2}, opts.Let)
	assert.Nil(t, p.Options().AllowDiskUse)

	_, err = p.SetOption("max_time", 10)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))
	_, err = p.SetOption("batch_size", "ten")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))
}

// TestPipeline_LookupDemultiplex 连接结果还原为关联文档，反向引用指向宿主
func TestPipeline_LookupDemultiplex(t *testing.T) {
	ctx := context.Background()
	reg := blog(t)
	for _, title := range []string{"first", "second"} {
		post, err := document.Create(ctx, reg.MustModel("Post"), bson.M{"title": title})
		require.NoError(t, err)
		for _, body := range []string{"a", "b"} {
			_, err := association.Create(ctx, post, "comments", bson.M{"body": title + "-" + body})
			require.NoError(t, err)
		}
	}

	p, err := aggregation.New(reg.MustModel("Post")).
		Sort(bson.D{{Key: "title", Value: 1}}).
		LookupRelation("comments", nil)
	require.NoError(t, err)
	posts, err := p.All(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	for _, post := range posts {
		assert.False(t, post.Has("comments"), "joined array is not kept as an attribute")
		assert.False(t, post.HasChanges())
		cached, ok := post.Relation("comments")
		require.True(t, ok)
		comments, err := cached.(*association.Many).All(ctx)
		require.NoError(t, err)
		require.Len(t, comments, 2)
		for _, c := range comments {
			assert.Equal(t, "Comment", c.Model().Name())
			assert.Contains(t, c.Get("body"), post.Get("title").(string))
			parent, err := association.LoadOne(ctx, c, "post")
			require.NoError(t, err)
			assert.Same(t, post, parent)
		}
	}

	raw, err := p.RawAll(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	joined, ok := document.ToSlice(raw[0]["comments"])
	require.True(t, ok)
	assert.Len(t, joined, 2)
}

func TestPipeline_Count(t *testing.T) {
	ctx := context.Background()
	reg := blog(t)
	for i := 0; i < 3; i++ {
		_, err := document.Create(ctx, reg.MustModel("Post"), bson.M{"title": "t"})
		require.NoError(t, err)
	}
	raw, err := aggregation.New(reg.MustModel("Post")).
		Match(bson.D{{Key: "title", Value: "t"}}).
		Count("n").
		RawAll(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.True(t, document.EqualValues(3, raw[0]["n"]))
}
