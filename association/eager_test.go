package association_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/association"
	"docbind/document"
	"docbind/errors"
)

func seedBlog(t *testing.T, reg *document.Registry) []*document.Document {
	t.Helper()
	ctx := context.Background()
	var posts []*document.Document
	for i, title := range []string{"one", "two", "three"} {
		post := create(t, reg.MustModel("Post"), bson.M{"title": title})
		comments, err := association.LoadMany(ctx, post, "comments")
		require.NoError(t, err)
		for j := 0; j < i; j++ {
			_, err := comments.Create(ctx, bson.M{"body": title, "position": i - j})
			require.NoError(t, err)
		}
		posts = append(posts, post)
	}
	return posts
}

// TestIncludes_HasMany 每个文档的集合关联一次查询加载，反向引用指向宿主
func TestIncludes_HasMany(t *testing.T) {
	ctx := context.Background()
	reg := blogRegistry(t, []association.Option{association.Order(bson.D{{Key: "position", Value: 1}})}, nil)
	seedBlog(t, reg)

	posts, err := document.Find(ctx, reg.MustModel("Post"), nil, document.FindOptions{Sort: bson.D{{Key: "title", Value: 1}}})
	require.NoError(t, err)
	require.NoError(t, association.Includes(ctx, posts, "comments"))

	want := map[string]int{"one": 0, "two": 1, "three": 2}
	for _, post := range posts {
		cached, ok := post.Relation("comments")
		require.True(t, ok)
		many := cached.(*association.Many)
		assert.True(t, many.Loaded())

		comments, err := many.All(ctx)
		require.NoError(t, err)
		assert.Len(t, comments, want[post.Get("title").(string)])
		for i, c := range comments {
			assert.EqualValues(t, i+1, c.Get("position"))
			parent, err := association.LoadOne(ctx, c, "post")
			require.NoError(t, err)
			assert.Same(t, post, parent)
		}
	}
}

func TestIncludes_BelongsTo(t *testing.T) {
	ctx := context.Background()
	reg := blogRegistry(t, nil, nil)
	seedBlog(t, reg)

	comments, err := document.Find(ctx, reg.MustModel("Comment"), nil, document.FindOptions{})
	require.NoError(t, err)
	require.Len(t, comments, 3)
	require.NoError(t, association.Includes(ctx, comments, "post"))

	byPost := make(map[any]*document.Document)
	for _, c := range comments {
		p, ok := c.Relation("post")
		require.True(t, ok)
		target := p.(*association.One).Target()
		assert.Equal(t, c.Get("post_id"), target.ID())
		if prev, seen := byPost[target.ID()]; seen {
			assert.Same(t, prev, target, "comments of one post share the loaded parent")
		}
		byPost[target.ID()] = target
	}
	assert.Len(t, byPost, 2)

	err = association.Includes(ctx, []*document.Document{comments[0], document.New(reg.MustModel("Post"), nil)}, "post")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))
}

// TestNested_Many 嵌套属性按序号构建、更新与删除
func TestNested_Many(t *testing.T) {
	ctx := context.Background()
	reg := blogRegistry(t, nil, nil)
	post := create(t, reg.MustModel("Post"), nil)

	require.NoError(t, association.AssignNested(ctx, post, "comments", bson.M{
		"1": bson.M{"body": "second"},
		"0": bson.M{"body": "first"},
	}))
	comments, err := association.All(ctx, post, "comments")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Get("body"))
	assert.Equal(t, "second", comments[1].Get("body"))

	first, second := comments[0], comments[1]
	require.NoError(t, document.Save(ctx, first))
	require.NoError(t, document.Save(ctx, second))

	require.NoError(t, association.AssignNested(ctx, post, "comments", bson.A{
		bson.M{"id": first.ID().(bson.ObjectID).Hex(), "body": "edited"},
		bson.M{"_id": second.ID(), "_destroy": "1"},
	}))
	assert.Equal(t, "edited", first.Get("body"))
	_, err = document.FindByID(ctx, reg.MustModel("Comment"), second.ID())
	require.NoError(t, err, "removal without dependent keeps the document")
	assert.Nil(t, fetch(t, reg.MustModel("Comment"), second.ID()).Get("post_id"))

	err = association.AssignNested(ctx, post, "comments", bson.A{bson.M{"_id": bson.NewObjectID()}})
	assert.True(t, errors.IsNotFound(err))
}

func TestBuilder_RawID(t *testing.T) {
	ctx := context.Background()
	reg := blogRegistry(t, nil, nil)
	post := create(t, reg.MustModel("Post"), bson.M{"title": "by id"})
	comment := document.New(reg.MustModel("Comment"), nil)

	a, err := association.Of(comment, "post")
	require.NoError(t, err)
	got, err := a.Builder(comment, post.ID().(bson.ObjectID).Hex()).Build(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "by id", got.Get("title"))

	got, err = a.Builder(comment, bson.NewObjectID()).Build(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = a.Builder(comment, document.New(reg.MustModel("Comment"), nil)).Build(ctx)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))

	require.NoError(t, association.Set(ctx, comment, "post", post.ID()))
	assert.Equal(t, post.ID(), comment.Get("post_id"))
}

func TestMany_SubstituteAndClear(t *testing.T) {
	ctx := context.Background()
	var added, removed []string
	track := func(list *[]string) association.Callback {
		return func(_ context.Context, _, doc *document.Document) error {
			*list = append(*list, doc.Get("body").(string))
			return nil
		}
	}
	reg := blogRegistry(t, []association.Option{
		association.AfterAdd(track(&added)),
		association.BeforeRemove(track(&removed)),
		association.Dependent(association.DependentDelete),
	}, nil)
	post := create(t, reg.MustModel("Post"), nil)

	a := create(t, reg.MustModel("Comment"), bson.M{"body": "a", "post_id": post.ID()})
	b := document.New(reg.MustModel("Comment"), bson.M{"body": "b"})
	require.NoError(t, association.Set(ctx, post, "comments", []*document.Document{a, b}))
	assert.True(t, b.Persisted(), "pushed into a persisted base")
	assert.Equal(t, []string{"a", "b"}, added)

	c := document.New(reg.MustModel("Comment"), bson.M{"body": "c"})
	require.NoError(t, association.Set(ctx, post, "comments", []*document.Document{b, c}))
	assert.Equal(t, []string{"a"}, removed)
	_, err := document.FindByID(ctx, reg.MustModel("Comment"), a.ID())
	assert.True(t, errors.IsNotFound(err), "dependent delete removes substituted documents")

	many, err := association.LoadMany(ctx, post, "comments")
	require.NoError(t, err)
	require.NoError(t, many.Clear(ctx))
	left, err := document.Find(ctx, reg.MustModel("Comment"), nil, document.FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, left)

	require.NoError(t, association.Set(ctx, post, "comments", nil))
	ok, err := association.Exists(ctx, post, "comments")
	require.NoError(t, err)
	assert.False(t, ok)
}
