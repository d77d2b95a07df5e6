package association_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/association"
	"docbind/document"
	"docbind/errors"
	"docbind/schema"
)

func count(t *testing.T, m *document.Model, id any, field string) int64 {
	t.Helper()
	return cast.ToInt64(fetch(t, m, id).Get(field))
}

// TestSetup_CounterCache 创建、换绑与销毁时维护父文档计数
func TestSetup_CounterCache(t *testing.T) {
	ctx := context.Background()
	reg := blogRegistry(t, nil, []association.Option{association.CounterCache("")})
	posts := reg.MustModel("Post")
	first, second := create(t, posts, nil), create(t, posts, nil)

	comment := document.New(reg.MustModel("Comment"), bson.M{"body": "hi"})
	require.NoError(t, association.Set(ctx, comment, "post", first))
	require.NoError(t, document.Save(ctx, comment))
	assert.Equal(t, int64(1), count(t, posts, first.ID(), "comments_count"))
	assert.Equal(t, int64(1), cast.ToInt64(first.Get("comments_count")), "loaded parent is synced")

	require.NoError(t, association.Set(ctx, comment, "post", second))
	require.NoError(t, document.Save(ctx, comment))
	assert.Equal(t, int64(0), count(t, posts, first.ID(), "comments_count"))
	assert.Equal(t, int64(1), count(t, posts, second.ID(), "comments_count"))

	require.NoError(t, document.Destroy(ctx, comment))
	assert.Equal(t, int64(0), count(t, posts, second.ID(), "comments_count"))
}

func TestSetup_Touch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	reg := blogRegistry(t, nil, []association.Option{association.TouchField("commented_at")},
		schema.WithClock(func() time.Time { return now }))
	post := create(t, reg.MustModel("Post"), nil)

	comment := document.New(reg.MustModel("Comment"), nil)
	require.NoError(t, association.Set(ctx, comment, "post", post))
	require.NoError(t, document.Save(ctx, comment))

	stored := fetch(t, reg.MustModel("Post"), post.ID())
	assert.True(t, document.EqualValues(now, stored.Get("updated_at")), "got %v", stored.Get("updated_at"))
	assert.True(t, document.EqualValues(now, stored.Get("commented_at")))
	assert.False(t, post.Changed("updated_at"), "touch is written through to the loaded parent")

	later := now.Add(time.Hour)
	now = later
	require.NoError(t, document.Destroy(ctx, comment))
	assert.True(t, document.EqualValues(later, fetch(t, reg.MustModel("Post"), post.ID()).Get("updated_at")))
}

func TestSetup_PresenceValidation(t *testing.T) {
	ctx := context.Background()
	reg := blogRegistry(t, nil, nil)

	comment := document.New(reg.MustModel("Comment"), nil)
	err := document.Save(ctx, comment)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.(errors.IError).Details()["errors"], "post must exist")
	assert.True(t, comment.NewRecord())

	optional := blogRegistry(t, nil, nil, schema.WithBelongsToRequired(false))
	assert.NoError(t, document.Save(ctx, document.New(optional.MustModel("Comment"), nil)))
}

// TestSetup_AssociatedValidation has_many 默认校验已加载的目标
func TestSetup_AssociatedValidation(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, func(s *schema.Schema) {
		s.Model("Post").HasMany("comments")
		s.Model("Comment").Field("body", document.String).BelongsTo("post", association.Optional()).
			Validate(func(_ context.Context, d *document.Document) error {
				if d.Get("body") == nil {
					return errors.NewError(errors.ErrCodeValidation, "body is required")
				}
				return nil
			})
	})
	post := document.New(reg.MustModel("Post"), nil)
	_, err := association.Build(ctx, post, "comments", bson.M{})
	require.NoError(t, err)

	err = document.Save(ctx, post)
	require.Error(t, err)
	assert.Contains(t, err.(errors.IError).Details()["errors"], "comments is invalid")
}

func TestSetup_Dependent(t *testing.T) {
	ctx := context.Background()
	optional := []association.Option{association.Optional()}

	t.Run("destroy", func(t *testing.T) {
		reg := blogRegistry(t, []association.Option{association.Dependent(association.DependentDestroy)}, optional)
		post := create(t, reg.MustModel("Post"), nil)
		comments, err := association.LoadMany(ctx, post, "comments")
		require.NoError(t, err)
		_, err = comments.Create(ctx, bson.M{"body": "a"})
		require.NoError(t, err)
		_, err = comments.Create(ctx, bson.M{"body": "b"})
		require.NoError(t, err)

		require.NoError(t, document.Destroy(ctx, post))
		left, err := document.Find(ctx, reg.MustModel("Comment"), nil, document.FindOptions{})
		require.NoError(t, err)
		assert.Empty(t, left)
	})

	t.Run("nullify", func(t *testing.T) {
		reg := blogRegistry(t, []association.Option{association.Dependent(association.DependentNullify)}, nil)
		post := create(t, reg.MustModel("Post"), nil)
		comment, err := association.Create(ctx, post, "comments", bson.M{"body": "a"})
		require.NoError(t, err)

		require.NoError(t, document.Destroy(ctx, post))
		stored := fetch(t, reg.MustModel("Comment"), comment.ID())
		assert.Nil(t, stored.Get("post_id"))
	})

	t.Run("restrict", func(t *testing.T) {
		reg := blogRegistry(t, []association.Option{association.Dependent(association.DependentRestrict)}, optional)
		post := create(t, reg.MustModel("Post"), nil)
		_, err := association.Create(ctx, post, "comments", nil)
		require.NoError(t, err)

		err = document.Destroy(ctx, post)
		assert.Equal(t, errors.ErrCodeDependency, errors.GetErrorCode(err))
		assert.False(t, post.Destroyed())
		fetch(t, reg.MustModel("Post"), post.ID())
	})

	t.Run("belongs_to destroy", func(t *testing.T) {
		reg := blogRegistry(t, nil, []association.Option{association.Dependent(association.DependentDelete)})
		post := create(t, reg.MustModel("Post"), nil)
		comment, err := association.Create(ctx, post, "comments", nil)
		require.NoError(t, err)

		require.NoError(t, document.Destroy(ctx, comment))
		_, err = document.FindByID(ctx, reg.MustModel("Post"), post.ID())
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestSetup_Autosave(t *testing.T) {
	ctx := context.Background()

	t.Run("has_many", func(t *testing.T) {
		reg := blogRegistry(t, []association.Option{association.Autosave()}, nil)
		post := document.New(reg.MustModel("Post"), nil)
		comment, err := association.Build(ctx, post, "comments", bson.M{"body": "draft"})
		require.NoError(t, err)

		require.NoError(t, document.Save(ctx, post))
		assert.True(t, comment.Persisted())
		assert.Equal(t, post.ID(), fetch(t, reg.MustModel("Comment"), comment.ID()).Get("post_id"))

		comment.Set("body", "edited")
		require.NoError(t, document.Save(ctx, post))
		assert.Equal(t, "edited", fetch(t, reg.MustModel("Comment"), comment.ID()).Get("body"))
	})

	t.Run("belongs_to", func(t *testing.T) {
		reg := blogRegistry(t, nil, []association.Option{association.Autosave()})
		comment := document.New(reg.MustModel("Comment"), nil)
		post, err := association.Build(ctx, comment, "post", bson.M{"title": "new"})
		require.NoError(t, err)

		require.NoError(t, document.Save(ctx, comment))
		assert.True(t, post.Persisted())
		assert.Equal(t, post.ID(), fetch(t, reg.MustModel("Comment"), comment.ID()).Get("post_id"))
	})
}

func TestSetup_Create(t *testing.T) {
	ctx := context.Background()
	reg := blogRegistry(t, nil, nil)

	_, err := association.Create(ctx, document.New(reg.MustModel("Post"), nil), "comments", nil)
	assert.Equal(t, errors.ErrCodeUnsavedDocument, errors.GetErrorCode(err))

	comment := document.New(reg.MustModel("Comment"), bson.M{"body": "first"})
	post, err := association.Create(ctx, comment, "post", bson.M{"title": "hello"})
	require.NoError(t, err)
	assert.True(t, post.Persisted())
	assert.True(t, comment.Persisted())
	assert.Equal(t, post.ID(), fetch(t, reg.MustModel("Comment"), comment.ID()).Get("post_id"))

	ok, err := association.Exists(ctx, comment, "post")
	require.NoError(t, err)
	assert.True(t, ok)
}
