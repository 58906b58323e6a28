package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpwatch/internal/cache"
)

func TestLeaseKeyAndDefaults(t *testing.T) {
	l := NewLease(nil, "scheduler", 0)
	assert.Equal(t, "lpwatch:lease:scheduler", l.Key())
	assert.Equal(t, DefaultLeaseTTL, l.ttl)
	assert.NotEqual(t, NewLease(nil, "scheduler", 0).Token(), l.Token())
}

// 需要真实 Redis：LPWATCH_TEST_REDIS_ADDR=127.0.0.1:6379
func TestLeaseExclusiveAgainstRedis(t *testing.T) {
	addr := os.Getenv("LPWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LPWATCH_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{Addr: addr})
	require.NoError(t, err)
	defer c.Close()

	name := "test-" + uuid.NewString()
	a := NewLease(c.Underlying(), name, time.Minute)
	b := NewLease(c.Underlying(), name, time.Minute)

	require.NoError(t, a.Acquire(ctx))
	assert.ErrorIs(t, b.Acquire(ctx), cache.ErrLockHeld)

	held, err := a.Hold(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	// b 的 Release 不能释放 a 的锁
	require.NoError(t, b.Release(ctx))
	held, err = b.Hold(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, a.Release(ctx))
	held, err = b.Hold(ctx)
	require.NoError(t, err)
	assert.True(t, held)
	require.NoError(t, b.Release(ctx))
}
