package sheets

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/guide-lms/guide-router/internal/domain/concept"
	"github.com/guide-lms/guide-router/pkg/logger"
)

// ErrCacheMiss is returned by a Cache that has no entry for a key.
var ErrCacheMiss = errors.New("sheets: cache miss")

// Cache stores raw collection downloads.
type Cache interface {
	// Get returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, collection string) ([]byte, error)
	Set(ctx context.Context, collection string, data []byte) error
}

// CacheProvider returns the cache to use for a cache configuration, or nil
// for none.
type CacheProvider func(cfg concept.CacheConfig) Cache

// Repository loads collections of one row type. It implements concept.Loader.
// A Repository accumulates rows across LoadCollections calls and is not safe
// for concurrent use.
type Repository[T concept.Row] struct {
	client      *Client
	cache       Cache
	cacheConfig concept.CacheConfig
	parse       RowParser[T]
	concurrency int
	log         *logger.Logger

	objs []T
}

// NewRepository creates a Repository. cache may be nil.
func NewRepository[T concept.Row](client *Client, cache Cache, cacheConfig concept.CacheConfig, parse RowParser[T], concurrency int) *Repository[T] {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Repository[T]{
		client:      client,
		cache:       cache,
		cacheConfig: cacheConfig,
		parse:       parse,
		concurrency: concurrency,
		log:         client.logger,
		objs:        make([]T, 0),
	}
}

// LoaderFactory returns a concept.LoaderFactory producing fresh Repositories.
func LoaderFactory[T concept.Row](client *Client, caches CacheProvider, parse RowParser[T], concurrency int) concept.LoaderFactory[T] {
	return func(cfg concept.CacheConfig) concept.Loader[T] {
		var cache Cache
		if caches != nil && !cfg.Disabled {
			cache = caches(cfg)
		}
		return NewRepository(client, cache, cfg, parse, concurrency)
	}
}

// LoadCollections implements concept.Loader. Collections are downloaded
// concurrently; rows are appended in the order of ids.
func (r *Repository[T]) LoadCollections(ctx context.Context, ids []string, cacheDisabled bool) error {
	if len(ids) == 0 {
		return nil
	}

	results := make([][]T, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			data, err := r.read(gctx, id, cacheDisabled)
			if err != nil {
				return err
			}
			rows, err := parseCSV(id, data, r.client.RowURL)
			if err != nil {
				return err
			}
			objs := make([]T, 0, len(rows))
			for _, row := range rows {
				if obj, ok := r.parse(row); ok {
					objs = append(objs, obj)
				}
			}
			results[i] = objs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	for _, objs := range results {
		r.objs = append(r.objs, objs...)
	}
	return nil
}

func (r *Repository[T]) read(ctx context.Context, id string, cacheDisabled bool) ([]byte, error) {
	useCache := r.cache != nil && !r.cacheConfig.Disabled
	if useCache && !cacheDisabled {
		data, err := r.cache.Get(ctx, id)
		if err == nil {
			r.log.Debug("collection served from cache", logger.String("collection", id))
			return data, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			r.log.Warn("collection cache read failed", logger.String("collection", id), logger.Err(err))
		}
	}

	data, err := r.client.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := r.cache.Set(ctx, id, data); err != nil {
			r.log.Warn("collection cache write failed", logger.String("collection", id), logger.Err(err))
		}
	}
	return data, nil
}

// Objs implements concept.Loader.
func (r *Repository[T]) Objs() []T {
	return r.objs
}

// SheetURL implements concept.Loader.
func (r *Repository[T]) SheetURL(id string) string {
	return r.client.SheetURL(id)
}

// String implements fmt.Stringer.
func (r *Repository[T]) String() string {
	return fmt.Sprintf("sheets.Repository(%d rows)", len(r.objs))
}
