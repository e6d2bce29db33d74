package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID    int64 `gorm:"primaryKey"`
	OrgID int64
	Name  string
}

func TestStore_FindAndFindOne(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:repository_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&widget{}))

	ctx := context.Background()
	store := ProvideStore[widget](db)
	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, &widget{ID: int64(i + 1), OrgID: 1, Name: name}))
	}
	require.NoError(t, store.Create(ctx, &widget{ID: 10, OrgID: 2, Name: "z"}))

	items, err := store.Find(ctx, &widget{OrgID: 1}, OrderBy("id desc"), Limit(2))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].Name)

	one, err := store.FindOne(ctx, &widget{OrgID: 2})
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "z", one.Name)

	missing, err := store.FindOne(ctx, &widget{OrgID: 3})
	require.NoError(t, err)
	assert.Nil(t, missing)

	count, err := store.WithTrx(db).Count(ctx, &widget{OrgID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = store.Count(ctx, &widget{OrgID: 1}, Where("name <> ?", "a"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStore_ExistsAndLockedInTransaction(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:repository_locked_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&widget{}))

	ctx := context.Background()
	store := ProvideStore[widget](db)
	require.NoError(t, store.Create(ctx, &widget{ID: 1, OrgID: 1, Name: "a"}))

	ok, err := store.Exists(ctx, &widget{OrgID: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, &widget{OrgID: 1}, Where("name = ?", "nope"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Same(t, store, store.WithTrx(nil))

	err = db.Transaction(func(tx *gorm.DB) error {
		row, err := store.WithTrx(tx).FindOne(ctx, &widget{OrgID: 1, ID: 1}, Locked())
		if err != nil {
			return err
		}
		require.NotNil(t, row)
		assert.Equal(t, "a", row.Name)
		return nil
	})
	require.NoError(t, err)
}
