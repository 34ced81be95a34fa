package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvailabilityCache holds serialized availability views for a short TTL.
// A stale view is harmless (the booking engine re-validates everything),
// so errors from the cache never fail the request, and every booking,
// cancel, update or override write invalidates the affected key.
type AvailabilityCache interface {
	Get(ctx context.Context, doctorID, date string) ([]byte, error)
	Set(ctx context.Context, doctorID, date string, payload []byte) error
	Invalidate(ctx context.Context, doctorID, date string) error
}

type redisAvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) AvailabilityCache {
	return &redisAvailabilityCache{client: client, ttl: ttl}
}

func availabilityKey(doctorID, date string) string {
	return fmt.Sprintf("availability:%s:%s", doctorID, date)
}

// Get returns (nil, nil) on a cache miss.
func (c *redisAvailabilityCache) Get(ctx context.Context, doctorID, date string) ([]byte, error) {
	payload, err := c.client.Get(ctx, availabilityKey(doctorID, date)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("availability cache get: %w", err)
	}
	return payload, nil
}

func (c *redisAvailabilityCache) Set(ctx context.Context, doctorID, date string, payload []byte) error {
	if err := c.client.Set(ctx, availabilityKey(doctorID, date), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("availability cache set: %w", err)
	}
	return nil
}

func (c *redisAvailabilityCache) Invalidate(ctx context.Context, doctorID, date string) error {
	if err := c.client.Del(ctx, availabilityKey(doctorID, date)).Err(); err != nil {
		return fmt.Errorf("availability cache invalidate: %w", err)
	}
	return nil
}
