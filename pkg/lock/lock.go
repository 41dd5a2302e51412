// Package lock provides short-lived exclusive locks keyed by string, used to
// serialize mutations of one event closeout across service instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaeldominion/CrowdStack-sub002/pkg/redis"
)

// ErrNotAcquired is returned when another holder owns the key
var ErrNotAcquired = errors.New("lock not acquired")

// Lock is a held lock. Release is safe to call more than once.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out locks
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// releaseScript deletes the key only while it still holds our token
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

const releaseScriptName = "lock_release"

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker loads the release script and returns a locker
func NewRedisLocker(ctx context.Context, client *redis.Client, prefix string) (*RedisLocker, error) {
	if _, err := client.LoadScript(ctx, releaseScriptName, releaseScript); err != nil {
		return nil, err
	}
	return &RedisLocker{client: client, prefix: prefix}, nil
}

// Acquire implements Locker
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token := uuid.New().String()
	fullKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisLock{client: l.client, key: fullKey, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
	once   sync.Once
}

func (l *redisLock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		_, err = l.client.EvalShaByName(ctx, releaseScriptName, []string{l.key}, l.token)
	})
	return err
}

// LocalLocker is an in-process Locker for single-instance deployments and tests
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localEntry
	clock func() time.Time
}

type localEntry struct {
	token     string
	expiresAt time.Time
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), clock: time.Now}
}

// Acquire implements Locker. Expired entries are treated as free.
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if e, ok := l.held[key]; ok && now.Before(e.expiresAt) {
		return nil, ErrNotAcquired
	}

	token := uuid.New().String()
	l.held[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return &localLock{owner: l, key: key, token: token}, nil
}

func (l *LocalLocker) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.held[key]; ok && e.token == token {
		delete(l.held, key)
	}
}

type localLock struct {
	owner *LocalLocker
	key   string
	token string
}

func (l *localLock) Release(context.Context) error {
	l.owner.release(l.key, l.token)
	return nil
}
