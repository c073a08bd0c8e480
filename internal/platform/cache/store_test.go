package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, time.Second), mr
}

func TestSetHashReplacesFieldsAndExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetHash(ctx, "user:1", map[string]string{"name": `"a"`, "nickname": `"x"`}, time.Hour))
	require.NoError(t, store.SetHash(ctx, "user:1", map[string]string{"name": `"b"`}, time.Hour))

	fields, err := store.GetHash(ctx, "user:1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"name": `"b"`}, fields)
	require.Equal(t, time.Hour, mr.TTL("user:1"))

	mr.FastForward(time.Hour + time.Second)
	_, err = store.GetHash(ctx, "user:1")
	require.ErrorIs(t, err, ErrMiss)
}

func TestListMirrorNeverResurrectedByPatch(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	written, err := store.ListAppend(ctx, "users", "1", `{"id":"1"}`)
	require.NoError(t, err)
	require.False(t, written)
	require.False(t, mr.Exists("users"))

	version, err := store.ListVersion(ctx, "users")
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
	populated, err := store.ListPopulate(ctx, "users", version, map[string]string{"1": `{"id":"1"}`}, time.Hour)
	require.NoError(t, err)
	require.True(t, populated)
	require.Equal(t, time.Hour, mr.TTL("users"))
	written, err = store.ListUpdateByID(ctx, "users", "2", `{"id":"2"}`)
	require.NoError(t, err)
	require.True(t, written)

	entries, err := store.ListGet(ctx, "users")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, store.ListDeleteByID(ctx, "users", "1"))
	require.NoError(t, store.ListDeleteByID(ctx, "users", "2"))
	_, err = store.ListGet(ctx, "users")
	require.ErrorIs(t, err, ErrMiss)
}

func TestListPopulateSkipsEmpty(t *testing.T) {
	store, mr := newTestStore(t)
	populated, err := store.ListPopulate(context.Background(), "roles", 0, nil, time.Hour)
	require.NoError(t, err)
	require.False(t, populated)
	require.False(t, mr.Exists("roles"))
}

func TestListPopulateRejectsStaleGeneration(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	version, err := store.ListVersion(ctx, "roles")
	require.NoError(t, err)
	require.Zero(t, version)

	require.NoError(t, store.ListDeleteByID(ctx, "roles", "gone"))
	populated, err := store.ListPopulate(ctx, "roles", version, map[string]string{"gone": `{"id":"gone"}`}, time.Hour)
	require.NoError(t, err)
	require.False(t, populated)
	require.False(t, mr.Exists("roles"))

	version, err = store.ListVersion(ctx, "roles")
	require.NoError(t, err)
	populated, err = store.ListPopulate(ctx, "roles", version, map[string]string{"kept": `{"id":"kept"}`}, time.Hour)
	require.NoError(t, err)
	require.True(t, populated)

	require.NoError(t, store.Invalidate(ctx, "roles"))
	require.False(t, mr.Exists("roles"))
	populated, err = store.ListPopulate(ctx, "roles", version, map[string]string{"kept": `{"id":"kept"}`}, time.Hour)
	require.NoError(t, err)
	require.False(t, populated)
}

func TestScalarOperations(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "access_token:1")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "access_token:1", "tok", time.Minute))
	value, err := store.Get(ctx, "access_token:1")
	require.NoError(t, err)
	require.Equal(t, "tok", value)

	first, err := store.SetNX(ctx, "marker", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, first)
	second, err := store.SetNX(ctx, "marker", "1", time.Minute)
	require.NoError(t, err)
	require.False(t, second)
}

func TestFailuresAreTransient(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.GetHash(context.Background(), "user:1")
	require.ErrorIs(t, err, shared.ErrTransient)
	require.ErrorIs(t, store.Set(context.Background(), "k", "v", time.Minute), shared.ErrTransient)
}
