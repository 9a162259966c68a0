package repositorycache

import (
	"context"
	"iter"
	"slices"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/cache"
	"github.com/goliatone/go-docrepo/docrepo"
	"github.com/goliatone/go-docrepo/entity"
	"github.com/goliatone/go-docrepo/query"
)

// Interface assertion to ensure CachedRepository implements Repository[T]
var _ docrepo.Repository[any] = (*CachedRepository[any])(nil)

// Cached operation names. They are the first key segment after any namespace.
const (
	opGetByID        = "GetByID"
	opFirstOrDefault = "FirstOrDefault"
	opCount          = "Count"
	opCountWhere     = "CountWhere"
	opGetAll         = "GetAll"
	opWhere          = "Where"
)

// queryOps are the cached reads whose result depends on more than one document.
var queryOps = []string{opFirstOrDefault, opCount, opCountWhere, opGetAll, opWhere}

// lookup is the cached form of a (T, bool) read, so absence is cached too.
type lookup[T any] struct {
	Value T
	Found bool
}

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used to report failed invalidations.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// CachedRepository decorates a repository with read-through caching.
// Writes go to the base repository and then invalidate the cached reads they
// can affect.
type CachedRepository[T any] struct {
	base          docrepo.Repository[T]
	cache         cache.CacheService
	keySerializer cache.KeySerializer
	identity      func(T) (string, bool)
	logger        *zap.Logger

	// keys maps every cache key handed out to the operation that produced it.
	keys *xsync.MapOf[string, string]
	// tags maps a cache tag to the keys registered under it.
	tags *xsync.MapOf[string, *xsync.MapOf[string, struct{}]]
}

// New creates a CachedRepository that wraps base.
func New[T any](base docrepo.Repository[T], cacheService cache.CacheService, keySerializer cache.KeySerializer, opts ...Option) *CachedRepository[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if keySerializer == nil {
		keySerializer = cache.NewDefaultKeySerializer()
	}
	return &CachedRepository[T]{
		base:          base,
		cache:         cacheService,
		keySerializer: keySerializer,
		identity:      identityOf[T](base),
		logger:        o.logger,
		keys:          xsync.NewMapOf[string, string](),
		tags:          xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]](),
	}
}

// identityOf returns a function reading the identity of an entity. It uses
// the field the base repository resolved when it exposes one.
func identityOf[T any](base docrepo.Repository[T]) func(T) (string, bool) {
	d, err := entity.DescribeOf[T]()
	if err != nil {
		return func(T) (string, bool) { return "", false }
	}
	var field entity.Field
	var ok bool
	if named, isNamed := base.(interface{ IdentityField() string }); isNamed {
		field, ok = d.Field(named.IdentityField())
	}
	if !ok {
		if field, err = entity.ResolveIdentity(d, ""); err != nil {
			return func(T) (string, bool) { return "", false }
		}
	}
	return func(v T) (string, bool) {
		id := field.StringOf(v)
		return id, id != ""
	}
}

func (c *CachedRepository[T]) key(ctx context.Context, op string, args ...any) string {
	key := c.keySerializer.SerializeKey(op, args...)
	c.trackKey(ctx, op, key)
	return key
}

// GetByID retrieves an entity by identity, caching absence as well.
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	key := c.key(ctx, opGetByID, id)
	res, err := cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (lookup[T], error) {
		v, found, err := c.base.GetByID(ctx, id)
		return lookup[T]{Value: v, Found: found}, err
	})
	return res.Value, res.Found, err
}

// FirstOrDefault returns the first entity matching filter, with caching.
func (c *CachedRepository[T]) FirstOrDefault(ctx context.Context, filter query.Filter) (T, bool, error) {
	key := c.key(ctx, opFirstOrDefault, filterKey(filter))
	res, err := cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (lookup[T], error) {
		v, found, err := c.base.FirstOrDefault(ctx, filter)
		return lookup[T]{Value: v, Found: found}, err
	})
	return res.Value, res.Found, err
}

// Count returns the number of entities, with caching.
func (c *CachedRepository[T]) Count(ctx context.Context) (int, error) {
	key := c.key(ctx, opCount)
	return cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (int, error) {
		return c.base.Count(ctx)
	})
}

// CountWhere returns the number of entities matching filter, with caching.
func (c *CachedRepository[T]) CountWhere(ctx context.Context, filter query.Filter) (int, error) {
	key := c.key(ctx, opCountWhere, filterKey(filter))
	return cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (int, error) {
		return c.base.CountWhere(ctx, filter)
	})
}

// GetAll enumerates the collection. The first iteration materializes the
// whole sequence into the cache; later iterations replay it.
func (c *CachedRepository[T]) GetAll(ctx context.Context) iter.Seq2[T, error] {
	return c.replay(ctx, c.keySerializer.SerializeKey(opGetAll), opGetAll, func(ctx context.Context) ([]T, error) {
		return drain(c.base.GetAll(ctx))
	})
}

// Where returns the entities matching filter, materialized into the cache on
// first iteration. Invalid filters fail here without touching the cache.
func (c *CachedRepository[T]) Where(ctx context.Context, filter query.Filter) (iter.Seq2[T, error], error) {
	if _, err := c.base.Where(ctx, filter); err != nil {
		return nil, err
	}
	key := c.keySerializer.SerializeKey(opWhere, filterKey(filter))
	return c.replay(ctx, key, opWhere, func(ctx context.Context) ([]T, error) {
		seq, err := c.base.Where(ctx, filter)
		if err != nil {
			return nil, err
		}
		return drain(seq)
	}), nil
}

func (c *CachedRepository[T]) replay(ctx context.Context, key, op string, fetch cache.FetchFn[[]T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		c.trackKey(ctx, op, key)
		items, err := cache.GetOrFetch(ctx, c.cache, key, fetch)
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for _, v := range items {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Query passes through to the base repository uncached.
func (c *CachedRepository[T]) Query() *docrepo.Queryable[T] {
	return c.base.Query()
}

// AddOrUpdate writes through to the base repository and invalidates the
// cached lookup of the written identity and every cached query.
func (c *CachedRepository[T]) AddOrUpdate(ctx context.Context, e T) (T, error) {
	result, err := c.base.AddOrUpdate(ctx, e)
	if err != nil {
		return result, err
	}
	if id, ok := c.identity(result); ok {
		c.invalidateKey(ctx, c.keySerializer.SerializeKey(opGetByID, id))
	} else {
		c.invalidateOps(ctx, opGetByID)
	}
	c.invalidateOps(ctx, queryOps...)
	return result, nil
}

// Remove deletes through to the base repository and invalidates the cached
// lookup of id and every cached query.
func (c *CachedRepository[T]) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := c.base.Remove(ctx, id)
	if err != nil {
		return removed, err
	}
	c.invalidateKey(ctx, c.keySerializer.SerializeKey(opGetByID, id))
	if removed {
		c.invalidateOps(ctx, queryOps...)
	}
	return removed, nil
}

// RemoveCollection drops the collection and every cached read.
func (c *CachedRepository[T]) RemoveCollection(ctx context.Context) (bool, error) {
	removed, err := c.base.RemoveCollection(ctx)
	if err == nil {
		c.InvalidateAll(ctx)
	}
	return removed, err
}

// InvalidateAll removes every cached read of this repository.
func (c *CachedRepository[T]) InvalidateAll(ctx context.Context) {
	c.keys.Range(func(key, _ string) bool {
		c.invalidateKey(ctx, key)
		return true
	})
}

// InvalidateTags removes the cached reads registered under any of tags. See
// WithCacheTags.
func (c *CachedRepository[T]) InvalidateTags(ctx context.Context, tags ...string) {
	for _, tag := range dedupeStrings(tags) {
		keys, ok := c.tags.LoadAndDelete(tag)
		if !ok {
			continue
		}
		keys.Range(func(key string, _ struct{}) bool {
			c.invalidateKey(ctx, key)
			return true
		})
	}
}

// trackKey registers key under op and under the tags carried by ctx.
func (c *CachedRepository[T]) trackKey(ctx context.Context, op, key string) {
	c.keys.Store(key, op)
	for _, tag := range cacheTagsFromContext(ctx) {
		keys, _ := c.tags.LoadOrCompute(tag, func() *xsync.MapOf[string, struct{}] {
			return xsync.NewMapOf[string, struct{}]()
		})
		keys.Store(key, struct{}{})
	}
}

func (c *CachedRepository[T]) invalidateOps(ctx context.Context, ops ...string) {
	c.keys.Range(func(key, op string) bool {
		if slices.Contains(ops, op) {
			c.invalidateKey(ctx, key)
		}
		return true
	})
}

func (c *CachedRepository[T]) invalidateKey(ctx context.Context, key string) {
	if err := c.cache.Delete(ctx, key); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
	c.keys.Delete(key)
}

func filterKey(f query.Filter) string {
	if f == nil {
		return "nil"
	}
	return query.Key(f)
}

func drain[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
