package service

import (
	"context"
	"sync"
	"time"

	"techquest_backend/internal/session"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// NewLocker redis 可用时使用分布式锁，否则退回进程内锁
func NewLocker(rdb *redis.Client) session.Locker {
	if rdb != nil {
		return NewRedisLocker(rdb)
	}
	return NewMemoryLocker()
}

// 只删除自己持有的锁，过期后被别人拿到的锁不受影响
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 锁值为本次加锁的随机 token
type RedisLocker struct {
	Client *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{Client: rdb, tokens: make(map[string]string)}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return ok, err
	}
	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return unlockScript.Run(ctx, l.Client, []string{key}, token).Err()
}

type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]time.Time)}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if exp, ok := l.locks[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.locks[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.locks, key)
	l.mu.Unlock()
	return nil
}
