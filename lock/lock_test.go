package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/lock"
)

func exercise(t *testing.T, l lock.Locker) {
	t.Helper()
	ctx := context.Background()
	key := lock.AccountKey("acct_1")

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(ctx, key, time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, lease.Release(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLocalMutualExclusion(t *testing.T) {
	exercise(t, lock.NewLocal())
}

func TestLocalAcquireHonoursContext(t *testing.T) {
	l := lock.NewLocal()
	lease, err := l.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", 0)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	require.NoError(t, lease.Release(context.Background()))
	require.NoError(t, lease.Release(context.Background()))

	other, err := l.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)
	require.NoError(t, other.Release(context.Background()))
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *lock.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, lock.NewRedis(client, lock.WithRetryInterval(time.Millisecond))
}

func TestRedisMutualExclusion(t *testing.T) {
	_, l := newRedis(t)
	exercise(t, l)
}

func TestRedisLeaseExpiry(t *testing.T) {
	mr, l := newRedis(t)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	second, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	// The expired holder must not release the new holder's lock.
	assert.ErrorIs(t, first.Release(ctx), lock.ErrLeaseLost)
	assert.True(t, mr.Exists("k"))

	require.NoError(t, second.Release(ctx))
	assert.False(t, mr.Exists("k"))
}

func TestRedisAcquireTimeout(t *testing.T) {
	_, l := newRedis(t)
	held, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
}
