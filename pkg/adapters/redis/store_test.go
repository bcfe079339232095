package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seragusa/espalier/pkg/adapters/redis"
	"github.com/seragusa/espalier/pkg/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	state := domain.NewState("c1")
	state.Turn = 2
	state.Fields["intent"] = "sales"
	state.Append(domain.RoleUser, "hello", time.Now().UTC())

	require.NoError(t, store.Save(ctx, "c1", state, 0))
	assert.Equal(t, uint64(1), state.Version)

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.Version)
	assert.Equal(t, 2, loaded.Turn)
	assert.Equal(t, "sales", loaded.Fields["intent"])
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "hello", loaded.Messages[0].Text)
}

func TestStore_VersionConflict(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "c1", domain.NewState("c1"), 0))

	// Stale expectation: the stored version is now 1.
	err := store.Save(ctx, "c1", domain.NewState("c1"), 0)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	// Correct expectation succeeds.
	state, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "c1", state, 1))
	assert.Equal(t, uint64(2), state.Version)
}

func TestStore_LoadMissing(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewFromClient(client)

	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestStore_DeleteResetsVersion(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "c1", domain.NewState("c1"), 0))
	require.NoError(t, store.Delete(ctx, "c1"))

	_, err := store.Load(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	// A deleted conversation starts over at version 0.
	require.NoError(t, store.Save(ctx, "c1", domain.NewState("c1"), 0))
}

func TestStore_ListAndTTL(t *testing.T) {
	mr, client := newTestClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "c1", domain.NewState("c1"), 0))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "c1")

	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	// Index pruning keys off wall-clock time, not miniredis time.
	time.Sleep(1200 * time.Millisecond)
	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_Prefix(t *testing.T) {
	mr, client := newTestClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "c1", domain.NewState("c1"), 0))
	assert.True(t, mr.Exists("custom:c1"))
	assert.True(t, mr.Exists("custom:version:c1"))
	assert.True(t, mr.Exists("custom:index"))
}
