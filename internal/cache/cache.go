// Package cache provides the key-value cache used by the geocoder and
// coverage query service. The cache is a latency optimization only: callers
// treat read failures as misses and swallow write failures.
package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = eris.New("cache: miss")

// Cache is a TTL'd byte-oriented key-value store.
type Cache interface {
	// Get returns the cached value or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// DeleteByPrefix removes every key starting with prefix. Used by
	// ingestion to invalidate stale query results; failures are tolerable
	// because entries expire by TTL anyway.
	DeleteByPrefix(ctx context.Context, prefix string) error
}
