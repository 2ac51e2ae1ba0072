package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/collabtodo/collabd/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewWithClient(context.Background(), rdb)
	require.NoError(t, err)
	return s
}

func TestAddItem_CreatesListAndStampsRev(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rev, err := s.AddItem(ctx, "L1", model.TodoItem{ItemID: "I1", ListID: "L1", Name: "Milk"})
	require.NoError(t, err)
	require.Greater(t, float64(rev), 0.0)

	entry, ok, err := s.Get(ctx, "L1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rev, entry.Rev)
	require.Equal(t, "Milk", entry.Items["I1"].Name)
}

func TestUpdateItem_RevNeverDecreases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rev1, err := s.AddItem(ctx, "L1", model.TodoItem{ItemID: "I1", ListID: "L1", Name: "Milk"})
	require.NoError(t, err)

	rev2, err := s.UpdateItem(ctx, "L1", model.TodoItem{ItemID: "I1", ListID: "L1", Name: "Oat milk"})
	require.NoError(t, err)

	require.True(t, rev1.Less(rev2) || rev1 == rev2)
}

func TestUpdateItem_MissingListFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdateItem(ctx, "ghost", model.TodoItem{ItemID: "I1", ListID: "ghost"})
	require.ErrorIs(t, err, ErrScriptNotFound)
}

func TestUpdateItem_MissingItemFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "L1", model.TodoItem{ItemID: "I1", ListID: "L1", Name: "Milk"})
	require.NoError(t, err)

	_, err = s.UpdateItem(ctx, "L1", model.TodoItem{ItemID: "ghost", ListID: "L1"})
	require.ErrorIs(t, err, ErrScriptNotFound)
}

func TestDeleteItem_LeavesTombstone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, "L1", model.TodoItem{ItemID: "I1", ListID: "L1", Name: "Milk"})
	require.NoError(t, err)

	_, err = s.DeleteItem(ctx, "L1", "I1")
	require.NoError(t, err)

	entry, ok, err := s.Get(ctx, "L1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, entry.Items["I1"].IsDeleted)
	require.Empty(t, entry.VisibleItems())
}

func TestSeedAndGet_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := model.ListCacheEntry{
		ListID:   "L2",
		ListName: "Groceries",
		Items:    map[string]model.TodoItem{},
		Rev:      42,
	}
	require.NoError(t, s.Seed(ctx, entry))

	got, ok, err := s.Get(ctx, "L2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Groceries", got.ListName)
	require.Equal(t, model.Revision(42), got.Rev)
}
