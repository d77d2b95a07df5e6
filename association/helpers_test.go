package association_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/association"
	"docbind/document"
	"docbind/schema"
	"docbind/store/memory"
)

func newRegistry(t *testing.T, declare func(s *schema.Schema), opts ...schema.Option) *document.Registry {
	t.Helper()
	s := schema.New(memory.New(), opts...)
	declare(s)
	reg, err := s.Build()
	require.NoError(t, err)
	return reg
}

// blogRegistry Post has_many comments / Comment belongs_to post
func blogRegistry(t *testing.T, postOpts, commentOpts []association.Option, opts ...schema.Option) *document.Registry {
	return newRegistry(t, func(s *schema.Schema) {
		s.Model("Post").Field("title", document.String).HasMany("comments", postOpts...)
		s.Model("Comment").Field("body", document.String).Field("position", document.Int).
			BelongsTo("post", commentOpts...)
	}, opts...)
}

func create(t *testing.T, m *document.Model, attrs bson.M) *document.Document {
	t.Helper()
	d, err := document.Create(context.Background(), m, attrs)
	require.NoError(t, err)
	return d
}

func fetch(t *testing.T, m *document.Model, id any) *document.Document {
	t.Helper()
	d, err := document.FindByID(context.Background(), m, id)
	require.NoError(t, err)
	return d
}

func ids(docs []*document.Document) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}
