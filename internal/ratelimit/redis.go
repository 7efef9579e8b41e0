package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "ratelimit:"

// RedisLimiter keeps the sliding-window log in a Redis sorted set per key.
// Redis failures fail open: the hit is admitted and the error logged.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	nowF   func() time.Time
	seq    atomic.Uint64
}

// NewRedisLimiter returns a limiter backed by client.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, nowF: time.Now}
}

var _ Limiter = (*RedisLimiter)(nil)

// Allow trims, counts, records and refreshes the TTL in one MULTI pipeline. The count is
// taken before this hit is added; a rejected hit is removed again so it does not extend the window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.nowF()
	k := redisKeyPrefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)
	cutoff := now.Add(-l.window).UnixMilli()

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
		card = p.ZCard(ctx, k)
		p.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		p.PExpire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("ratelimit: redis unavailable, admitting request")
		return true, nil
	}
	if card.Val() >= int64(l.limit) {
		if err := l.client.ZRem(ctx, k, member).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("ratelimit: failed to drop rejected hit")
		}
		return false, nil
	}
	return true, nil
}

// Ping reports whether Redis is reachable.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
