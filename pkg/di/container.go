package di

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/cache"
	"github.com/goliatone/go-docrepo/config"
	"github.com/goliatone/go-docrepo/docrepo"
	"github.com/goliatone/go-docrepo/internal/logging"
	"github.com/goliatone/go-docrepo/repositorycache"
	"github.com/goliatone/go-docrepo/resilience"
	"github.com/goliatone/go-docrepo/store"
	"github.com/goliatone/go-docrepo/store/memstore"
	"github.com/goliatone/go-docrepo/store/sqlstore"
)

// Container wires the store client, the cache service and the logger from a
// config.Config, and builds repositories on top of them.
type Container struct {
	config       config.Config
	logger       *zap.Logger
	client       store.Client
	cacheService cache.CacheService
	closers      []func() error
}

// Option configures a Container.
type Option func(*Container)

// WithLogger replaces the logger built from the log section.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStoreClient uses client instead of opening the configured backend. The
// client is still wrapped with the retry policy.
func WithStoreClient(client store.Client) Option {
	return func(c *Container) {
		if client != nil {
			c.client = client
		}
	}
}

// WithCacheService replaces the sturdyc cache built from the cache section.
func WithCacheService(svc cache.CacheService) Option {
	return func(c *Container) {
		if svc != nil {
			c.cacheService = svc
		}
	}
}

// NewContainer validates cfg, opens the store backend and builds the cache
// service when caching is enabled.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}

	if c.client == nil {
		client, closer, err := openStore(ctx, cfg.Store, c.logger)
		if err != nil {
			return nil, err
		}
		c.client = client
		if closer != nil {
			c.closers = append(c.closers, closer)
		}
	}
	c.client = resilience.Wrap(c.client, retryPolicy(cfg.Retry), resilience.WithLogger(c.logger))

	if cfg.Cache.Enabled && c.cacheService == nil {
		svc, err := cache.NewCacheService(cacheConfig(cfg.Cache))
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.cacheService = svc
	}

	c.logger.Info("container ready",
		zap.String("driver", cfg.Store.Driver),
		zap.String("database", cfg.DatabaseID),
		zap.Bool("cache", c.cacheService != nil),
	)
	return c, nil
}

// NewContainerWithDefaults builds a container over config.Default: an
// in-memory store with caching enabled.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, config.Default(), opts...)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Client, func() error, error) {
	if cfg.Driver == config.DriverMemory {
		return memstore.New(memstore.WithLogger(logger)), nil, nil
	}
	s, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       cfg.Driver,
		DSN:          cfg.DSN,
		QueryLog:     cfg.QueryLog,
		MaxOpenConns: cfg.MaxOpenConns,
	}, sqlstore.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func retryPolicy(cfg config.RetryConfig) resilience.Policy {
	return resilience.Policy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		FastFirstRetry: cfg.FastFirstRetry,
	}
}

func cacheConfig(cfg config.CacheConfig) cache.Config {
	out := cache.DefaultConfig()
	out.Capacity = cfg.Capacity
	out.NumShards = cfg.NumShards
	out.TTL = cfg.TTL
	out.EvictionPercentage = cfg.EvictionPercentage
	return out
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.config
}

// Logger returns the container logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Client returns the retrying store client shared by every repository.
func (c *Container) Client() store.Client {
	return c.client
}

// CacheService returns the shared cache, or nil when caching is disabled.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// RepositoryOptions returns the repository options derived from the
// configuration. They are applied before any caller option.
func (c *Container) RepositoryOptions() []docrepo.Option {
	strategy := docrepo.NativeUpsert
	if c.config.Repository.UpsertStrategy == config.UpsertReadModifyWrite {
		strategy = docrepo.ReadModifyWrite
	}
	return []docrepo.Option{
		docrepo.WithPageSize(c.config.Repository.PageSize),
		docrepo.WithUpsertStrategy(strategy),
		docrepo.WithLogger(c.logger),
	}
}

// Close releases the store backend.
func (c *Container) Close() error {
	var errs []error
	for _, closer := range c.closers {
		errs = append(errs, closer())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// NewRepository builds a repository of T in the configured database.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewRepository[Person](container, docrepo.WithCollectionName("People"))
func NewRepository[T any](c *Container, opts ...docrepo.Option) (*docrepo.DocumentRepository[T], error) {
	return docrepo.New[T](c.client, c.config.DatabaseID, append(c.RepositoryOptions(), opts...)...)
}

// NewCachedRepository builds a repository of T and, when caching is enabled,
// wraps it with a read-through cache. Keys are namespaced by collection name
// so that repositories can share the container cache.
func NewCachedRepository[T any](c *Container, opts ...docrepo.Option) (docrepo.Repository[T], error) {
	base, err := NewRepository[T](c, opts...)
	if err != nil {
		return nil, err
	}
	if c.cacheService == nil {
		return base, nil
	}
	keys := cache.NewNamespacedKeySerializer(base.CollectionName())
	return repositorycache.New[T](base, c.cacheService, keys, repositorycache.WithLogger(c.logger)), nil
}
