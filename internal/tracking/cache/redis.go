package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/ezmove/internal/tracking/domain"
)

const defaultKeyPrefix = "tracking:driver:"

// RedisCache shares driver locations between service instances.
type RedisCache struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisCache constructs the cache. An empty prefix uses "tracking:driver:".
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, keyPrefix: prefix}
}

// Set overwrites the entry and clears any expiry armed by Expire.
func (c *RedisCache) Set(ctx context.Context, loc domain.DriverLocation) error {
	payload, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	if err := c.client.Set(ctx, c.key(loc.DriverID), payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, driverID uuid.UUID) (domain.DriverLocation, bool, error) {
	payload, err := c.client.Get(ctx, c.key(driverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.DriverLocation{}, false, nil
	}
	if err != nil {
		return domain.DriverLocation{}, false, fmt.Errorf("redis get: %w", err)
	}
	var loc domain.DriverLocation
	if err := json.Unmarshal(payload, &loc); err != nil {
		return domain.DriverLocation{}, false, fmt.Errorf("unmarshal location: %w", err)
	}
	return loc, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, driverID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(driverID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Expire arms a TTL on the driver's entry. It reports false when there is no entry.
func (c *RedisCache) Expire(ctx context.Context, driverID uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := c.client.Expire(ctx, c.key(driverID), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis expire: %w", err)
	}
	return ok, nil
}

// Persist drops a TTL armed by Expire. It reports whether one was removed.
func (c *RedisCache) Persist(ctx context.Context, driverID uuid.UUID) (bool, error) {
	ok, err := c.client.Persist(ctx, c.key(driverID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis persist: %w", err)
	}
	return ok, nil
}

// TTL returns the remaining lifetime of the entry, or a non-positive value when none is set.
func (c *RedisCache) TTL(ctx context.Context, driverID uuid.UUID) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, c.key(driverID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	return ttl, nil
}

func (c *RedisCache) key(driverID uuid.UUID) string {
	return c.keyPrefix + driverID.String() + ":location"
}
