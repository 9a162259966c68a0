package cacheinfra

import (
	"context"
	stderrors "errors"
	"reflect"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/viccon/sturdyc"
)

// ErrInvalidFetchFn is returned when GetOrFetch receives something other than
// a func(context.Context) (T, error).
var ErrInvalidFetchFn = stderrors.New("invalid fetch function")

// Config holds the sturdyc settings.
type Config struct {
	// Capacity is the maximum number of entries.
	Capacity int
	// NumShards splits the cache to reduce lock contention.
	NumShards int
	// TTL is how long an entry stays fresh.
	TTL time.Duration
	// EvictionPercentage is the share of entries evicted when full, 1 to 100.
	EvictionPercentage int
	// EarlyRefresh enables background refreshes of hot entries. Nil disables it.
	EarlyRefresh *EarlyRefreshConfig
	// MissingRecordStorage remembers fetches that returned sturdyc.ErrNotFound.
	MissingRecordStorage bool
	// EvictionInterval is how often expired entries are swept. Zero keeps the
	// sturdyc default.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig configures sturdyc early refreshes.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns the default settings. Early refresh is off: a cached
// repository invalidates on write, and a background refresh racing a write
// could store a stale read.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          64,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions maps the optional settings to sturdyc options. Capacity,
// NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if e := c.EarlyRefresh; e != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			e.MinAsyncRefreshTime,
			e.MaxAsyncRefreshTime,
			e.SyncRefreshTime,
			e.RetryBaseDelay,
		))
	}
	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EarlyRefresh),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid cache configuration").
			WithTextCode("INVALID_CACHE_CONFIG")
	}
	return nil
}

// Validate implements validation.Validatable for the nested early refresh block.
func (e *EarlyRefreshConfig) Validate() error {
	if e == nil {
		return nil
	}
	return validation.ValidateStruct(e,
		validation.Field(&e.MinAsyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&e.MaxAsyncRefreshTime, validation.Min(e.MinAsyncRefreshTime)),
		validation.Field(&e.SyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&e.RetryBaseDelay, validation.Min(time.Duration(0))),
	)
}

// SturdycService is a CacheService backed by a sturdyc client.
type SturdycService struct {
	client *sturdyc.Client[any]
}

// NewSturdycService validates cfg and builds the sturdyc client.
func NewSturdycService(cfg Config) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[any](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)
	return &SturdycService{client: client}, nil
}

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

func invalidFetchFn(msg string) error {
	return goerrors.Wrap(ErrInvalidFetchFn, goerrors.CategoryBadInput, msg).
		WithTextCode("INVALID_FETCH_FN")
}

// validateFetchFn checks that fetchFn is a func(context.Context) (T, error).
func validateFetchFn(fetchFn any) error {
	if fetchFn == nil {
		return invalidFetchFn("fetch function is nil")
	}
	t := reflect.TypeOf(fetchFn)
	if t.Kind() != reflect.Func {
		return invalidFetchFn("fetch function must be a func, got " + t.String())
	}
	if reflect.ValueOf(fetchFn).IsNil() {
		return invalidFetchFn("fetch function is nil")
	}
	if t.NumIn() != 1 || t.NumOut() != 2 || !contextType.AssignableTo(t.In(0)) || t.Out(1) != errorType {
		return invalidFetchFn("fetch function must have signature func(context.Context) (T, error), got " + t.String())
	}
	return nil
}

// GetOrFetch returns the value cached under key or calls fetchFn, which must
// be a func(context.Context) (T, error). Concurrent misses on one key share a
// single fetch.
func (s *SturdycService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	if err := validateFetchFn(fetchFn); err != nil {
		return nil, err
	}
	return s.client.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return callFetchFn(ctx, fetchFn)
	})
}

func callFetchFn(ctx context.Context, fetchFn any) (any, error) {
	if fn, ok := fetchFn.(func(context.Context) (any, error)); ok {
		return fn(ctx)
	}
	out := reflect.ValueOf(fetchFn).Call([]reflect.Value{reflect.ValueOf(&ctx).Elem()})
	var err error
	if !out[1].IsNil() {
		err = out[1].Interface().(error)
	}
	return out[0].Interface(), err
}

// Delete removes key.
func (s *SturdycService) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every key that starts with prefix.
func (s *SturdycService) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// Size returns the number of cached entries.
func (s *SturdycService) Size() int {
	return len(s.client.ScanKeys())
}
