package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed window counter shared by every server instance.
// Redis errors fail open: a request is never rejected because Redis is down.
type RedisLimiter struct {
	rdb    goredis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a limiter backed by rdb.
func NewRedisLimiter(rdb goredis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "penpal:ratelimit",
		now:    time.Now,
	}
}

func (l *RedisLimiter) windowKey(key string) string {
	bucket := l.now().UnixMilli() / l.window.Milliseconds()
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)
}

// Allow increments the counter of key's current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	k := l.windowKey(key)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("rate limiter redis unavailable, allowing request",
			"key", key,
			"error", err,
		)
		return true
	}
	return incr.Val() <= int64(l.limit)
}
