package lock

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaeldominion/CrowdStack-sub002/pkg/redis"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	first, err := l.Acquire(ctx, "event:1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "event:1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.Acquire(ctx, "event:2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	again, err := l.Acquire(ctx, "event:1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLocker_Expiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "event:1", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "event:1", time.Second)
	require.NoError(t, err)

	// the stale holder must not release the new holder's lock
	require.NoError(t, stale.Release(ctx))
	_, err = l.Acquire(ctx, "event:1", time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, fresh.Release(ctx))
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalLocker().Acquire(ctx, "event:1", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalLocker_Concurrent(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(ctx, "event:race", time.Minute); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestRedisLocker_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := redis.DefaultConfig()
	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("TEST_REDIS_PORT")); err == nil {
		cfg.Port = port
	}
	cfg.Password = os.Getenv("TEST_REDIS_PASSWORD")

	ctx := context.Background()
	client, err := redis.NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	locker, err := NewRedisLocker(ctx, client, "test:closeout:lock:")
	require.NoError(t, err)

	key := "event-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	held, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, held.Release(ctx))
	require.NoError(t, held.Release(ctx))

	again, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
