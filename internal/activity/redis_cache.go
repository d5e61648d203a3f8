package activity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"plantcare-engine/internal/logging"
	"plantcare-engine/pkg/types"
)

// RedisCache shares cached profiles between engine instances. Redis failures
// fall through to the wrapped provider.
type RedisCache struct {
	client *redis.Client
	next   Provider
	prefix string
	ttl    time.Duration
	logger logging.Logger
}

// NewRedisCache wraps next with a Redis-backed cache
func NewRedisCache(client *redis.Client, next Provider, prefix string, ttl time.Duration, logger logging.Logger) *RedisCache {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisCache{
		client: client,
		next:   next,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.WithComponent("activity_redis_cache"),
	}
}

func (r *RedisCache) key(userID string) string {
	return r.prefix + "activity:" + userID
}

// Get implements Provider
func (r *RedisCache) Get(ctx context.Context, userID string) (*types.ActivityProfile, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	switch {
	case err == nil:
		var profile types.ActivityProfile
		if jerr := json.Unmarshal(data, &profile); jerr == nil {
			return &profile, nil
		}
		r.logger.WarnContext(ctx, "discarding unreadable cached profile", "user_id", userID)
	case errors.Is(err, redis.Nil):
	default:
		r.logger.WarnContext(ctx, "redis profile lookup failed", "user_id", userID, "error", err)
	}

	profile, err := r.next.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(profile); err == nil {
		if err := r.client.Set(ctx, r.key(userID), data, r.ttl).Err(); err != nil {
			r.logger.DebugContext(ctx, "redis profile write failed", "user_id", userID, "error", err)
		}
	}
	return profile, nil
}

// Invalidate removes a user's shared cache entry
func (r *RedisCache) Invalidate(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}
