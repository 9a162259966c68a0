// Package cache provides the read-through cache interfaces and key
// serialization used by cached repositories.
//
// # Overview
//
//   - CacheService: read-through GetOrFetch plus key and prefix deletion
//   - KeySerializer: builds stable keys from an operation name and arguments
//   - Config / NewCacheService: the default sturdyc backed service
//
// # Basic Usage
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	keys := cache.NewDefaultKeySerializer()
//
//	key := keys.SerializeKey("GetByID", "J1")
//	person, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (Person, error) {
//		return load(ctx, "J1")
//	})
//
// # Key Serialization
//
// The default serializer renders each argument deterministically:
//
//   - values implementing Keyer render as their CacheKey
//   - scalars render with fmt
//   - slices, arrays and structs render element by element
//   - maps render with entries sorted
//   - funcs and channels render as their address, stable only within a process
//
// Use NewNamespacedKeySerializer when several repositories share one cache.
package cache
