package cache

import (
	"context"
	stderrors "errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// ErrInvalidResultType is returned by GetOrFetch when a cached value does not
// have the type the caller asked for, which happens when two readers share a
// key with different result types.
var ErrInvalidResultType = stderrors.New("cached value has unexpected type")

// KeySerializer builds a cache key from an operation name and its arguments.
// Keys must be stable across calls with equal arguments.
type KeySerializer interface {
	SerializeKey(operation string, args ...any) string
}

// Keyer lets a value choose its own cache key segment.
type Keyer interface {
	CacheKey() string
}

// FetchFn loads a value from the source of truth on a cache miss.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the read-through cache a cached repository consults.
type CacheService interface {
	// GetOrFetch returns the value cached under key, calling fetchFn, a
	// FetchFn[T], on a miss. Errors from fetchFn are returned and not cached.
	GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error)
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes every key starting with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// GetOrFetch is the typed form of CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T
	result, err := service.GetOrFetch(ctx, key, fetchFn)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	value, ok := result.(T)
	if !ok {
		return zero, goerrors.Wrap(ErrInvalidResultType, goerrors.CategoryInternal,
			fmt.Sprintf("key %q holds %T, want %T", key, result, zero)).
			WithTextCode("CACHE_TYPE_MISMATCH")
	}
	return value, nil
}
