package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLock guarantees at most one tick per project is in flight across workers.
type RunLock interface {
	// TryLock returns ok=false when another holder owns the lock.
	TryLock(ctx context.Context, projectID uuid.UUID) (unlock func(), ok bool, err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisRunLock struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisRunLock creates locks that expire after ttl if the holder dies.
func NewRedisRunLock(rdb redis.UniversalClient, ttl time.Duration) *RedisRunLock {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisRunLock{rdb: rdb, ttl: ttl}
}

var _ RunLock = (*RedisRunLock)(nil)

func runLockKey(projectID uuid.UUID) string {
	return "pbn:lock:project:" + projectID.String()
}

func (l *RedisRunLock) TryLock(ctx context.Context, projectID uuid.UUID) (func(), bool, error) {
	key := runLockKey(projectID)
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return unlock, true, nil
}
