package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // requests allowed per window
	Window time.Duration
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a sliding window limiter on Redis sorted sets. Keys are
// shared by every gateway instance.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Allow checks and records a single request for key.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN checks and records n requests for key. Rejected requests are not
// counted against the window.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := r.now()
	windowStart := now.Add(-r.config.Window)
	resetAt := now.Add(r.config.Window)
	redisKey := "ratelimit:" + key

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	current := int(countCmd.Val())
	remaining := r.config.Limit - current

	if current+n > r.config.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("current", current),
			zap.Int("limit", r.config.Limit),
		)
		return &RateLimitResult{
			Allowed:   false,
			Limit:     r.config.Limit,
			Remaining: max(0, remaining),
			ResetAt:   resetAt,
		}, nil
	}

	members := make([]redis.Z, n)
	for i := range members {
		members[i] = redis.Z{
			Score:  float64(now.UnixNano() + int64(i)),
			Member: fmt.Sprintf("%d-%d", now.UnixNano(), i),
		}
	}

	add := r.client.rdb.Pipeline()
	add.ZAdd(ctx, redisKey, members...)
	add.Expire(ctx, redisKey, r.config.Window+time.Second)
	if _, err := add.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	return &RateLimitResult{
		Allowed:   true,
		Limit:     r.config.Limit,
		Remaining: remaining - n,
		ResetAt:   resetAt,
	}, nil
}
