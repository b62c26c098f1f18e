package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Redis backs Cache with a redis server so query-result and geocode caches
// survive restarts and are shared across replicas.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the given redis address. The connection is verified
// lazily; an unreachable server degrades to cache misses at call sites.
func NewRedis(addr, password string, db int) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Get retrieves a cached value. Returns ErrMiss when the key is absent.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, eris.Wrap(err, "redis: get")
	}
	return data, nil
}

// Set stores a value with TTL.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return eris.Wrap(err, "redis: set")
	}
	return nil
}

// Delete removes keys.
func (c *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return eris.Wrap(err, "redis: delete")
	}
	return nil
}

// DeleteByPrefix scans for keys matching prefix* and removes them in
// batches. SCAN keeps the server responsive on large keyspaces.
func (c *Redis) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 256 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return eris.Wrap(err, "redis: delete by prefix")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return eris.Wrap(err, "redis: scan")
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return eris.Wrap(err, "redis: delete by prefix")
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}
