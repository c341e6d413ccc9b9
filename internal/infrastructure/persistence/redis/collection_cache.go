package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guide-lms/guide-router/internal/domain/concept"
	"github.com/guide-lms/guide-router/internal/infrastructure/external/sheets"
)

// DefaultCollectionTTL is used when the cache configuration has no TTL.
const DefaultCollectionTTL = time.Hour

// CollectionCache stores raw sheet downloads keyed by collection id.
// It implements sheets.Cache.
type CollectionCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ sheets.Cache = (*CollectionCache)(nil)

// NewCollectionCache creates a CollectionCache with the given TTL.
func NewCollectionCache(client redis.Cmdable, ttl time.Duration) *CollectionCache {
	if ttl <= 0 {
		ttl = DefaultCollectionTTL
	}
	return &CollectionCache{client: client, ttl: ttl}
}

// Provider returns a sheets.CacheProvider backed by this client. The TTL of
// each cache configuration is honoured.
func (c *Cache) Provider() sheets.CacheProvider {
	return func(cfg concept.CacheConfig) sheets.Cache {
		if cfg.Disabled {
			return nil
		}
		return NewCollectionCache(c.client, cfg.TTL)
	}
}

// Get implements sheets.Cache.
func (c *CollectionCache) Get(ctx context.Context, collection string) ([]byte, error) {
	if collection == "" {
		return nil, ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, CollectionKey(collection)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sheets.ErrCacheMiss
		}
		return nil, err
	}
	return data, nil
}

// Set implements sheets.Cache.
func (c *CollectionCache) Set(ctx context.Context, collection string, data []byte) error {
	if collection == "" {
		return ErrCacheKeyEmpty
	}
	return c.client.Set(ctx, CollectionKey(collection), data, c.ttl).Err()
}

// Invalidate removes cached collections.
func (c *CollectionCache) Invalidate(ctx context.Context, collections ...string) error {
	if len(collections) == 0 {
		return nil
	}
	keys := make([]string, len(collections))
	for i, id := range collections {
		keys[i] = CollectionKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
