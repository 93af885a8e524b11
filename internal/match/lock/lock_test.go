package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/mechassist/internal/match/lock"
)

func TestMemoryLockerAcquireRelease(t *testing.T) {
	l := lock.NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "mech-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire(ctx, "mech-1", time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	// A different key does not contend.
	ok, err = l.Acquire(ctx, "mech-2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "mech-1"))
	ok, err = l.Acquire(ctx, "mech-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryLockerTTLExpiry(t *testing.T) {
	l := lock.NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "mech-1", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	ok, err = l.Acquire(ctx, "mech-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	client, _ := newRedisClient(t)
	l := lock.NewRedisLocker(client, "")
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "mech-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire(ctx, "mech-1", time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.Release(ctx, "mech-1"))

	ok, err = l.Acquire(ctx, "mech-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockerTTLExpiry(t *testing.T) {
	client, mr := newRedisClient(t)
	l := lock.NewRedisLocker(client, "")
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "mech-1", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(150 * time.Millisecond)

	ok, err = l.Acquire(ctx, "mech-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}
