package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"readshelf/internal/util"
)

// Locker serializes page-advance batches per book.
type Locker interface {
	// TryAcquire attempts to take the lock for key. It returns a release
	// token and false (without error) when another holder has the lock.
	TryAcquire(ctx context.Context, key string) (string, bool, error)
	// Release frees the lock if token still owns it.
	Release(ctx context.Context, key, token string) error
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisMutex is a per-key mutex on Redis using SET NX with a TTL so a
// crashed holder cannot wedge a book forever.
type RedisMutex struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMutex creates a Redis-backed per-key mutex.
func NewRedisMutex(addr, password, prefix string, ttl time.Duration) (*RedisMutex, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("lock redis addr required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "readshelf:advance"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisMutex{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// NewRedisMutexWithClient wraps an existing client; used by tests.
func NewRedisMutexWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisMutex {
	if prefix == "" {
		prefix = "readshelf:advance"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisMutex{client: client, prefix: prefix, ttl: ttl}
}

// TryAcquire takes the lock for key when free.
func (m *RedisMutex) TryAcquire(ctx context.Context, key string) (string, bool, error) {
	token := util.NewID()
	ok, err := m.client.SetNX(ctx, m.lockKey(key), token, m.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock only when token still owns it, so an expired
// holder cannot release a lock re-acquired by someone else.
func (m *RedisMutex) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, m.client, []string{m.lockKey(key)}, token).Err()
}

func (m *RedisMutex) lockKey(key string) string {
	return m.prefix + ":" + key
}
