package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/service"
)

var _ service.SeenCache = (*RedisStorage)(nil)

func newTestRedis(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStorage(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStorage_AdvanceSeenMonotonic(t *testing.T) {
	store, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := store.GetSeen(ctx, "scope")
	require.ErrorIs(t, err, common.ErrNotFound)

	for _, id := range []string{"18c2", "18c9", "18c3", "fff", "10000", "0fff"} {
		require.NoError(t, store.AdvanceSeen(ctx, "scope", id))
	}

	entry, err := store.GetSeen(ctx, "scope")
	require.NoError(t, err)
	assert.Equal(t, "10000", entry.HighestID)
	assert.False(t, entry.UpdatedAt.IsZero())
}

func TestRedisStorage_ListAndClear(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.AdvanceSeen(ctx, "b", "2"))
	require.NoError(t, store.AdvanceSeen(ctx, "a", "1"))

	entries, err := store.ListSeen(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Scope)
	assert.Equal(t, "2", entries[1].HighestID)

	require.NoError(t, store.ClearSeen(ctx, "a"))
	assert.False(t, mr.Exists(defaultRedisPrefix+"a"))

	require.NoError(t, store.ClearSeen(ctx, ""))
	entries, err = store.ListSeen(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisStorage_Prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStorageWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	defer func() { _ = store.Close() }()

	require.NoError(t, store.AdvanceSeen(context.Background(), "s", "9"))
	assert.Equal(t, "9", mr.HGet("test:s", "highest_id"))
	member, err := mr.IsMember("test:scopes", "s")
	require.NoError(t, err)
	assert.True(t, member)
}

func TestNewRedisStorage_BadURL(t *testing.T) {
	_, err := NewRedisStorage(context.Background(), "not a url")
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
