package association_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbind/association"
	"docbind/document"
	"docbind/schema"
)

func flowerRegistry(t *testing.T, macro association.Macro) *document.Registry {
	return newRegistry(t, func(s *schema.Schema) {
		flower := s.Model("Flower").Field("type", document.String)
		if macro == association.HasOne {
			flower.HasOne("petal")
		} else {
			flower.HasMany("petals")
		}
		s.Model("Petal").BelongsTo("flower", association.Optional())
	})
}

func TestBinding_PersistedParent(t *testing.T) {
	ctx := context.Background()
	for _, macro := range []association.Macro{association.HasMany, association.HasOne} {
		t.Run(macro.String(), func(t *testing.T) {
			reg := flowerRegistry(t, macro)
			flower := create(t, reg.MustModel("Flower"), nil)

			persisted := create(t, reg.MustModel("Petal"), nil)
			require.NoError(t, association.Set(ctx, persisted, "flower", flower))
			assert.Equal(t, flower.ID(), persisted.Get("flower_id"))

			fresh := document.New(reg.MustModel("Petal"), nil)
			require.NoError(t, association.Set(ctx, fresh, "flower", flower))
			assert.Equal(t, flower.ID(), fresh.Get("flower_id"))
		})
	}
}

// TestBinding_UnsavedParentDeferral 父文档保存后才写入外键
func TestBinding_UnsavedParentDeferral(t *testing.T) {
	ctx := context.Background()
	reg := flowerRegistry(t, association.HasMany)
	flower := document.New(reg.MustModel("Flower"), nil)
	petal := document.New(reg.MustModel("Petal"), nil)

	require.NoError(t, association.Set(ctx, petal, "flower", flower))
	assert.Nil(t, petal.Get("flower_id"))

	require.NoError(t, document.Save(ctx, flower))
	assert.NotNil(t, petal.Get("flower_id"))
	assert.Equal(t, flower.ID(), petal.Get("flower_id"))

	petals, err := association.All(ctx, flower, "petals")
	require.NoError(t, err)
	require.Len(t, petals, 1)
	assert.Same(t, petal, petals[0])

	require.NoError(t, document.Save(ctx, petal))
	reloaded, err := association.Reload(ctx, flower, "petals")
	require.NoError(t, err)
	assert.Equal(t, []any{petal.ID()}, ids(reloaded.([]*document.Document)))
}

// TestBinding_ChildSavedFirst 子文档先保存时外键为空，父文档保存后才可查到
func TestBinding_ChildSavedFirst(t *testing.T) {
	ctx := context.Background()
	reg := flowerRegistry(t, association.HasMany)
	flower := document.New(reg.MustModel("Flower"), nil)
	petal := document.New(reg.MustModel("Petal"), nil)

	require.NoError(t, association.Set(ctx, petal, "flower", flower))
	require.NoError(t, document.Save(ctx, petal))
	assert.Nil(t, fetch(t, reg.MustModel("Petal"), petal.ID()).Get("flower_id"))

	linked, err := document.Find(ctx, reg.MustModel("Petal"), nil, document.FindOptions{})
	require.NoError(t, err)
	for _, p := range linked {
		assert.Nil(t, p.Get("flower_id"))
	}

	require.NoError(t, document.Save(ctx, flower))
	assert.Equal(t, flower.ID(), fetch(t, reg.MustModel("Petal"), petal.ID()).Get("flower_id"))

	reloaded, err := association.Reload(ctx, flower, "petals")
	require.NoError(t, err)
	assert.Equal(t, []any{petal.ID()}, ids(reloaded.([]*document.Document)))
}

func TestBinding_HasOneDeferral(t *testing.T) {
	ctx := context.Background()
	reg := flowerRegistry(t, association.HasOne)

	t.Run("child persisted", func(t *testing.T) {
		flower := document.New(reg.MustModel("Flower"), nil)
		petal := create(t, reg.MustModel("Petal"), nil)
		require.NoError(t, association.Set(ctx, petal, "flower", flower))
		assert.Nil(t, petal.Get("flower_id"))

		require.NoError(t, document.Save(ctx, flower))
		got, err := association.LoadOne(ctx, flower, "petal")
		require.NoError(t, err)
		assert.Same(t, petal, got)
		assert.Equal(t, flower.ID(), fetch(t, reg.MustModel("Petal"), petal.ID()).Get("flower_id"))
	})

	t.Run("child new", func(t *testing.T) {
		flower := document.New(reg.MustModel("Flower"), nil)
		petal := document.New(reg.MustModel("Petal"), nil)
		require.NoError(t, association.Set(ctx, petal, "flower", flower))

		require.NoError(t, document.Save(ctx, flower))
		assert.NotNil(t, petal.Get("flower_id"))
		got, err := association.LoadOne(ctx, flower, "petal")
		require.NoError(t, err)
		assert.Same(t, petal, got)
	})
}

// TestBinding_Idempotent 重复绑定不改变外键与内存状态
func TestBinding_Idempotent(t *testing.T) {
	ctx := context.Background()
	reg := flowerRegistry(t, association.HasMany)
	flower := create(t, reg.MustModel("Flower"), nil)
	petal := document.New(reg.MustModel("Petal"), nil)

	require.NoError(t, association.Set(ctx, petal, "flower", flower))
	fk := petal.Get("flower_id")
	require.NoError(t, association.Set(ctx, petal, "flower", flower))
	assert.Equal(t, fk, petal.Get("flower_id"))

	petals, err := association.LoadMany(ctx, flower, "petals")
	require.NoError(t, err)
	require.NoError(t, petals.Push(ctx, petal))
	n, err := petals.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestBinding_InverseSymmetry belongs_to 绑定后反向集合包含该文档，解绑后移除
func TestBinding_InverseSymmetry(t *testing.T) {
	ctx := context.Background()
	reg := flowerRegistry(t, association.HasMany)
	flower := create(t, reg.MustModel("Flower"), nil)
	petal := create(t, reg.MustModel("Petal"), nil)

	require.NoError(t, association.Set(ctx, petal, "flower", flower))
	petals, err := association.LoadMany(ctx, flower, "petals")
	require.NoError(t, err)
	ok, err := petals.Include(ctx, petal)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, association.Set(ctx, petal, "flower", nil))
	assert.Nil(t, petal.Get("flower_id"))
	ok, err = petals.Include(ctx, petal)
	require.NoError(t, err)
	assert.False(t, ok)

	// 反向：has_many 一侧追加，belongs_to 一侧可见
	require.NoError(t, petals.Push(ctx, petal))
	parent, err := association.LoadOne(ctx, petal, "flower")
	require.NoError(t, err)
	assert.Same(t, flower, parent)
	assert.Equal(t, flower.ID(), fetch(t, reg.MustModel("Petal"), petal.ID()).Get("flower_id"))
}

// TestBinding_ReleasePrevious 改挂到新父文档时从原父文档的已加载集合中移除
func TestBinding_ReleasePrevious(t *testing.T) {
	ctx := context.Background()
	reg := flowerRegistry(t, association.HasMany)
	first := create(t, reg.MustModel("Flower"), nil)
	second := create(t, reg.MustModel("Flower"), nil)
	petal := create(t, reg.MustModel("Petal"), nil)

	firstPetals, err := association.LoadMany(ctx, first, "petals")
	require.NoError(t, err)
	require.NoError(t, firstPetals.Push(ctx, petal))
	got, err := firstPetals.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{petal.ID()}, ids(got))

	require.NoError(t, association.Set(ctx, petal, "flower", second))
	got, err = firstPetals.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	secondPetals, err := association.All(ctx, second, "petals")
	require.NoError(t, err)
	assert.Equal(t, []any{petal.ID()}, ids(secondPetals))
}
