package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-sync/core/offline"
	"github.com/trezcool/masomo-sync/storage/database"
	sqlxrepos "github.com/trezcool/masomo-sync/storage/database/sqlx"
	"github.com/trezcool/masomo-sync/tests"
)

func newQueueStore(t *testing.T) offline.QueueStore {
	t.Helper()
	conf := testutil.NewConfig(t)
	db := testutil.PrepareDB(t, conf)
	return sqlxrepos.NewQueueStore(database.NewX(db, conf))
}

func TestQueueStore_Enqueue(t *testing.T) {
	store := newQueueStore(t)
	ctx := context.Background()
	created := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

	item := testutil.EnqueueItem(t, store, "attendance", offline.OpUpdate, "at-1", map[string]bool{"present": true}, created)

	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, "attendance", got.StoreName)
	assert.Equal(t, offline.OpUpdate, got.Operation)
	assert.Equal(t, "at-1", got.EntityID)
	assert.JSONEq(t, `{"present":true}`, string(got.Data))
	assert.Equal(t, 0, got.Attempts)
	assert.Empty(t, got.LastError)
	assert.True(t, got.LastAttemptAt.IsZero())
	assert.True(t, created.Equal(got.CreatedAt), "CreatedAt = %v, want %v", got.CreatedAt, created)

	_, err = store.Get(ctx, "missing")
	assert.Equal(t, offline.ErrNotFound, err)
}

func TestQueueStore_Order(t *testing.T) {
	store := newQueueStore(t)
	ctx := context.Background()
	now := time.Now()

	// same timestamp everywhere: only the insertion order counts
	a := testutil.EnqueueItem(t, store, "attendance", offline.OpCreate, "", 1, now)
	b := testutil.EnqueueItem(t, store, "activities", offline.OpCreate, "", 2, now)
	c := testutil.EnqueueItem(t, store, "attendance", offline.OpCreate, "", 3, now)
	d := testutil.EnqueueItem(t, store, "attendance", offline.OpCreate, "", 4, now.Add(-time.Hour))

	ids := func(items []offline.QueueItem) []string {
		res := make([]string, 0, len(items))
		for _, item := range items {
			res = append(res, item.ID)
		}
		return res
	}

	tests := []struct {
		name      string
		storeName string
		want      []string
	}{
		{name: "attendance", storeName: "attendance", want: []string{a.ID, c.ID, d.ID}},
		{name: "activities", storeName: "activities", want: []string{b.ID}},
		{name: "empty store", storeName: "assessments", want: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			items, err := store.List(ctx, tc.storeName)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			assert.Equal(t, tc.want, ids(items))
		})
	}

	t.Run("all", func(t *testing.T) {
		items, err := store.QueryAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, b.ID, c.ID, d.ID}, ids(items))
	})

	t.Run("store names", func(t *testing.T) {
		names, err := store.StoreNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"activities", "attendance"}, names)
	})
}

func TestQueueStore_UpdateAndRemove(t *testing.T) {
	store := newQueueStore(t)
	ctx := context.Background()
	item := testutil.EnqueueItem(t, store, "assessments", offline.OpDelete, "as-3", struct{}{})
	attempted := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	err := store.UpdateAttempts(ctx, item.ID, offline.Attempt{Attempts: 2, Error: "bad gateway", AttemptedAt: attempted})
	require.NoError(t, err)

	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "bad gateway", got.LastError)
	assert.True(t, attempted.Equal(got.LastAttemptAt))

	err = store.UpdateAttempts(ctx, "missing", offline.Attempt{Attempts: 1})
	assert.Equal(t, offline.ErrNotFound, err)

	require.NoError(t, store.Remove(ctx, item.ID))
	_, err = store.Get(ctx, item.ID)
	assert.Equal(t, offline.ErrNotFound, err)

	// removing twice is a no-op
	assert.NoError(t, store.Remove(ctx, item.ID))

	names, err := store.StoreNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
