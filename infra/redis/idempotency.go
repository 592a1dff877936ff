package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haulex/dispatch/core/idempotency"
)

// IdempotencyCache implements idempotency.Cache on Redis with plain GET/SET
// and a TTL.
type IdempotencyCache struct {
	cli *redis.Client
}

// NewIdempotencyCache creates an IdempotencyCache.
func NewIdempotencyCache(cli *redis.Client) *IdempotencyCache {
	return &IdempotencyCache{cli: cli}
}

func (c *IdempotencyCache) Get(ctx context.Context, customerID, key string) ([]byte, bool, error) {
	val, err := c.cli.Get(ctx, idempotency.Key(customerID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *IdempotencyCache) Put(ctx context.Context, customerID, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return c.cli.Set(ctx, idempotency.Key(customerID, key), payload, ttl).Err()
}
