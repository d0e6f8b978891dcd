package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bnpl/internal/trust/models"
	id "bnpl/pkg/domain"
	"bnpl/pkg/platform/sentinel"
)

// RedisCache stores profile snapshots in Redis with TTL eviction.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns sentinel.ErrNotFound on a miss.
func (c *RedisCache) Get(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	data, err := c.client.Get(ctx, profileKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get cached profile: %w", err)
	}
	if string(data) == tombstone {
		return nil, sentinel.ErrNotFound
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode cached profile: %w", err)
	}
	return snap.profile(), nil
}

// Set writes p only when the key is absent, so an invalidation tombstone wins.
func (c *RedisCache) Set(ctx context.Context, p *models.Profile) error {
	if p == nil {
		return fmt.Errorf("profile is required")
	}
	payload, err := json.Marshal(toSnapshot(p))
	if err != nil {
		return fmt.Errorf("encode cached profile: %w", err)
	}
	if err := c.client.SetNX(ctx, profileKey(p.UserID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached profile: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID id.UserID) error {
	if err := c.client.Set(ctx, profileKey(userID), tombstone, InvalidationHold).Err(); err != nil {
		return fmt.Errorf("invalidate cached profile: %w", err)
	}
	return nil
}
