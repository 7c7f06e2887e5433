// Package cache provides a read-through cache with bounded staleness in front
// of slow-changing reads (graduation policies, FX snapshots).
//
// Values are JSON encoded so the same cache works over the in-process backend
// and Redis. Concurrent misses on one key are collapsed into a single load.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Backend stores opaque values with a TTL.
type Backend interface {
	// Get returns the value and true on a hit, false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ReadThrough caches values of type V under a key prefix.
type ReadThrough[V any] struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	group   singleflight.Group
	logger  *zap.Logger
}

// NewReadThrough creates a cache over backend. Entries live at most ttl.
func NewReadThrough[V any](backend Backend, prefix string, ttl time.Duration, logger *zap.Logger) *ReadThrough[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadThrough[V]{backend: backend, prefix: prefix, ttl: ttl, logger: logger}
}

// Get returns the cached value for key, calling load on a miss.
// Backend failures degrade to a direct load; load errors are never cached.
func (c *ReadThrough[V]) Get(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	fullKey := c.prefix + key

	if raw, ok, err := c.backend.Get(ctx, fullKey); err != nil {
		c.logger.Warn("cache get failed", zap.String("key", fullKey), zap.Error(err))
	} else if ok {
		var v V
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.logger.Warn("cache entry undecodable, reloading", zap.String("key", fullKey))
	}

	res, err, _ := c.group.Do(fullKey, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		if raw, err := json.Marshal(v); err == nil {
			if err := c.backend.Set(ctx, fullKey, raw, c.ttl); err != nil {
				c.logger.Warn("cache set failed", zap.String("key", fullKey), zap.Error(err))
			}
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Invalidate drops key.
func (c *ReadThrough[V]) Invalidate(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, c.prefix+key)
}
