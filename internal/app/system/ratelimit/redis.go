package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a Counter shared by every instance pointing at the same
// Redis. Windows are fixed: the first hit sets the key's TTL.
type RedisLimiter struct {
	rdb      *redis.Client
	prefix   string
	limit    int
	duration time.Duration
}

// NewRedis allows limit hits per key every duration. prefix namespaces keys
// ("classroll:rl:login:ip:").
func NewRedis(rdb *redis.Client, prefix string, limit int, duration time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit, duration: duration}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.ExpireNX(ctx, k, l.duration)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit %s: %w", k, err)
	}
	return incr.Val() <= int64(l.limit), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.prefix+key).Err()
}
