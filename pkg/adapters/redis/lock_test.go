package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seragusa/espalier/pkg/adapters/redis"
)

func TestLocker_AcquireAndRelease(t *testing.T) {
	_, client := newTestClient(t)
	locker := redis.NewLocker(client, "")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "c1", 5*time.Second)
	require.NoError(t, err)

	// A second acquisition blocks until the context gives up.
	blocked, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(blocked, "c1", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))

	// Released: acquisition succeeds immediately.
	unlock, err = locker.Lock(ctx, "c1", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestLocker_IndependentKeys(t *testing.T) {
	_, client := newTestClient(t)
	locker := redis.NewLocker(client, "")
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "a", 5*time.Second)
	require.NoError(t, err)
	defer unlockA(ctx)

	unlockB, err := locker.Lock(ctx, "b", 5*time.Second)
	require.NoError(t, err)
	defer unlockB(ctx)
}
