package httpx

import (
	"context"
	"strconv"
	"time"

	"log/slog"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

type redisRateLimiter struct {
	client  redis.Cmdable
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisRateLimiter constructs a Redis backed sliding-window limiter. Each
// key is a sorted set of request timestamps. The client is owned by the
// caller. Redis failures let the request through.
func NewRedisRateLimiter(client redis.Cmdable, logger *slog.Logger) RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "clouddeploy:ratelimit:",
		timeout: 250 * time.Millisecond,
	}
}

func (rl *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	now := time.Now()
	redisKey := rl.prefix + key
	member := uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		card = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		rl.logRedisError("pipeline", err)
		return rateDecision{allowed: true}
	}

	count := int(card.Val())
	reset := now.Add(window)
	if first := oldest.Val(); len(first) > 0 {
		reset = time.UnixMilli(int64(first[0].Score)).Add(window)
	}
	if count > limit {
		if err := rl.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			rl.logRedisError("zrem", err)
		}
		return rateDecision{allowed: false, count: count - 1, reset: reset}
	}
	return rateDecision{allowed: true, count: count, reset: reset}
}

func (rl *redisRateLimiter) Close() {}

func (rl *redisRateLimiter) logRedisError(op string, err error) {
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}
