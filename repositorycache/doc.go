// Package repositorycache provides a read-through caching decorator for
// docrepo repositories.
//
// # Overview
//
// CachedRepository wraps any docrepo.Repository[T]. Reads are served from a
// cache.CacheService; writes go to the wrapped repository and then invalidate
// the cached reads they can affect.
//
//	base, _ := docrepo.New[Person](client, "People")
//	svc, _ := cache.NewCacheService(cache.DefaultConfig())
//	people := repositorycache.New[Person](base, svc, cache.NewNamespacedKeySerializer("people"))
//
//	p, ok, err := people.GetByID(ctx, "J1") // store
//	p, ok, err = people.GetByID(ctx, "J1")  // cache
//
// # Cached operations
//
//   - GetByID and FirstOrDefault, including absent results
//   - Count and CountWhere
//   - GetAll and Where, materialized on first iteration and replayed afterwards
//
// Query passes through uncached, since its result depends on composition
// that happens after the call.
//
// # Invalidation
//
//   - AddOrUpdate drops the cached lookup of the written identity and every
//     cached query
//   - Remove drops the cached lookup of the identity, and every cached query
//     when a document was actually removed
//   - RemoveCollection drops everything this repository cached
//
// Keys are tracked in a concurrent registry so invalidation does not depend on
// the key layout chosen by the KeySerializer. Reads can also be grouped with
// WithCacheTags and dropped with InvalidateTags.
//
// Results are shared between callers. Entities holding slices or maps must be
// treated as read-only once returned.
package repositorycache
