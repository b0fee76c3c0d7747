package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned by TryLock when another holder owns the key.
var ErrLocked = errors.New("lock is held by another process")

// Locker provides mutual exclusion for a named resource. The returned release
// func is safe to call once.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RedisLock is a single-instance Redis lock: SET NX PX with a random owner
// token, released only by the owner. While held, the TTL is extended every
// third of its length so a long pass keeps the lock; the TTL only bounds how
// long a crashed holder blocks others.
type RedisLock struct {
	redisClient *redis.Client
	logger      *slog.Logger
	renewEvery  time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

func NewRedisLock(redisClient *redis.Client, logger *slog.Logger) *RedisLock {
	return &RedisLock{redisClient: redisClient, logger: logger}
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	ok, err := l.redisClient.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(key, token, ttl, stop, stopped)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-stopped

			// The caller's ctx may already be done when the pass finishes.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(relCtx, l.redisClient, []string{lockKey(key)}, token).Err(); err != nil {
				l.logger.Error("failed to release lock", "key", key, "error", err)
			}
		})
	}
	return release, nil
}

// keepAlive extends the lock until stop is closed or the lock turns out to
// belong to someone else.
func (l *RedisLock) keepAlive(key, token string, ttl time.Duration, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	if ttl <= 0 {
		return
	}

	every := l.renewEvery
	if every <= 0 {
		every = ttl / 3
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := renewScript.Run(ctx, l.redisClient, []string{lockKey(key)}, token, ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			l.logger.Warn("failed to extend lock", "key", key, "error", err)
			continue
		}
		if n == 0 {
			l.logger.Error("lock lost while held", "key", key)
			return
		}
	}
}

// LocalLock serializes holders inside one process. It is used when no Redis
// is configured.
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]*sync.Mutex)}
}

// TryLock ignores ttl: a local holder cannot outlive the process.
func (l *LocalLock) TryLock(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() { once.Do(m.Unlock) }, nil
}
