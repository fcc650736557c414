package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRoleCache caches role sets in Redis. Entries carry the user's
// roles_updated_at stamp; the engine discards entries whose stamp no longer
// matches, so a missed invalidation only costs one extra read.
type RedisRoleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisRoleCache constructs a role cache.
func NewRedisRoleCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisRoleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRoleCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached role set for a user.
func (c *RedisRoleCache) Get(ctx context.Context, userID int64) (CachedRoles, bool) {
	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("role cache get", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return CachedRoles{}, false
	}
	var entry CachedRoles
	if err := json.Unmarshal(data, &entry); err != nil {
		return CachedRoles{}, false
	}
	return entry, true
}

// Set stores the role set for a user. Cache writes are best effort.
func (c *RedisRoleCache) Set(ctx context.Context, userID int64, entry CachedRoles) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(userID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("role cache set", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// Invalidate drops the cached role set for a user.
func (c *RedisRoleCache) Invalidate(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}

func (c *RedisRoleCache) key(userID int64) string {
	return fmt.Sprintf("gatehouse:roles:%d", userID)
}
