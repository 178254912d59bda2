package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/codepair/internal/model"
)

const cacheKeyPrefix = "user:ext:"

// RedisCache はRedisを使用したユーザーキャッシュ。
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache はRedisCacheを生成する。
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(externalID string) string {
	return cacheKeyPrefix + externalID
}

// Get はキャッシュ済みユーザーを返す。
func (c *RedisCache) Get(ctx context.Context, externalID string) (*model.User, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(externalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read user cache: %w", err)
	}

	var user model.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached user: %w", err)
	}
	return &user, true, nil
}

// Set はユーザーをTTL付きでキャッシュする。
func (c *RedisCache) Set(ctx context.Context, user *model.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(user.ExternalID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write user cache: %w", err)
	}
	return nil
}

// Delete はキャッシュを破棄する。
func (c *RedisCache) Delete(ctx context.Context, externalID string) error {
	if err := c.client.Del(ctx, cacheKey(externalID)).Err(); err != nil {
		return fmt.Errorf("failed to delete user cache: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Cache = (*RedisCache)(nil)
