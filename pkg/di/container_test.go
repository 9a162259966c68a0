package di

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/cache"
	"github.com/goliatone/go-docrepo/config"
	"github.com/goliatone/go-docrepo/docrepo"
	"github.com/goliatone/go-docrepo/repositorycache"
	"github.com/goliatone/go-docrepo/resilience"
	"github.com/goliatone/go-docrepo/store"
	"github.com/goliatone/go-docrepo/store/memstore"
)

type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Log.Level = "error"
	return cfg
}

func newContainer(t *testing.T, cfg config.Config, opts ...Option) *Container {
	t.Helper()
	c, err := NewContainer(context.Background(), cfg, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func TestNewContainerWithDefaults(t *testing.T) {
	c, err := NewContainerWithDefaults(context.Background(), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer c.Close()

	if c.Config() != config.Default() {
		t.Errorf("expected default configuration, got %+v", c.Config())
	}
	if c.CacheService() == nil {
		t.Error("expected a cache service with the default configuration")
	}
	if _, ok := c.Client().(*resilience.Client); !ok {
		t.Errorf("expected the store client to be wrapped with retries, got %T", c.Client())
	}
	if c.Logger() == nil {
		t.Error("expected a logger")
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	cfg := quietConfig()
	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = ""

	_, err := NewContainer(context.Background(), cfg)
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.TextCode != "INVALID_CONFIG" {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
}

func TestNewRepository_UsesConfiguredDefaults(t *testing.T) {
	cfg := quietConfig()
	cfg.DatabaseID = "Accounts"
	cfg.Repository.UpsertStrategy = config.UpsertReadModifyWrite
	c := newContainer(t, cfg)

	repo, err := NewRepository[User](c)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	if repo.DatabaseID() != "Accounts" {
		t.Errorf("expected Accounts, got %q", repo.DatabaseID())
	}
	if repo.CollectionName() != "User" {
		t.Errorf("expected collection named after the type, got %q", repo.CollectionName())
	}

	named, err := NewRepository[User](c, docrepo.WithCollectionName("Members"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	if named.CollectionName() != "Members" {
		t.Errorf("caller options should win, got %q", named.CollectionName())
	}

	ctx := context.Background()
	saved, err := repo.AddOrUpdate(ctx, User{Name: "Jack", Email: "jack@example.com"})
	if err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	got, ok, err := repo.GetByID(ctx, saved.ID)
	if err != nil || !ok || got.Email != "jack@example.com" {
		t.Fatalf("GetByID: (%+v, %v, %v)", got, ok, err)
	}
}

func TestNewCachedRepository(t *testing.T) {
	t.Run("cache enabled", func(t *testing.T) {
		c := newContainer(t, quietConfig())
		repo, err := NewCachedRepository[User](c)
		if err != nil {
			t.Fatalf("NewCachedRepository: %v", err)
		}
		if _, ok := repo.(*repositorycache.CachedRepository[User]); !ok {
			t.Fatalf("expected a cached repository, got %T", repo)
		}
	})

	t.Run("cache disabled", func(t *testing.T) {
		cfg := quietConfig()
		cfg.Cache.Enabled = false
		c := newContainer(t, cfg)
		if c.CacheService() != nil {
			t.Error("expected no cache service")
		}
		repo, err := NewCachedRepository[User](c)
		if err != nil {
			t.Fatalf("NewCachedRepository: %v", err)
		}
		if _, ok := repo.(*docrepo.DocumentRepository[User]); !ok {
			t.Fatalf("expected the plain repository, got %T", repo)
		}
	})

	t.Run("invalid repository config", func(t *testing.T) {
		c := newContainer(t, quietConfig())
		_, err := NewCachedRepository[User](c, docrepo.WithCollectionName("bad/name"))
		if !errors.Is(err, docrepo.ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

// countingStore counts GetByID lookups that reach the store.
type countingStore struct {
	store.Client
	queries int
}

func (s *countingStore) QueryDocuments(ctx context.Context, link string, q store.Query) (store.FeedIterator, error) {
	s.queries++
	return s.Client.QueryDocuments(ctx, link, q)
}

func TestCachedRepositories_ShareCacheWithoutCollisions(t *testing.T) {
	backend := &countingStore{Client: memstore.New()}
	c := newContainer(t, quietConfig(), WithStoreClient(backend))
	ctx := context.Background()

	users, err := NewCachedRepository[User](c, docrepo.WithCollectionName("Users"))
	if err != nil {
		t.Fatal(err)
	}
	admins, err := NewCachedRepository[User](c, docrepo.WithCollectionName("Admins"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := users.AddOrUpdate(ctx, User{ID: "1", Name: "Jack"}); err != nil {
		t.Fatal(err)
	}
	if _, err := admins.AddOrUpdate(ctx, User{ID: "1", Name: "Root"}); err != nil {
		t.Fatal(err)
	}

	for range 3 {
		u, _, err := users.GetByID(ctx, "1")
		if err != nil || u.Name != "Jack" {
			t.Fatalf("users.GetByID: (%+v, %v)", u, err)
		}
		a, _, err := admins.GetByID(ctx, "1")
		if err != nil || a.Name != "Root" {
			t.Fatalf("admins.GetByID: (%+v, %v)", a, err)
		}
	}
	if backend.queries != 2 {
		t.Errorf("expected one store query per repository, got %d", backend.queries)
	}
}

func TestContainer_CustomCacheService(t *testing.T) {
	svc, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	c := newContainer(t, quietConfig(), WithCacheService(svc))
	if c.CacheService() != svc {
		t.Error("expected the supplied cache service")
	}
}

func TestCacheConfig_FollowsCacheSection(t *testing.T) {
	if got := cacheConfig(config.Default().Cache); got != cache.DefaultConfig() {
		t.Errorf("default cache section should map to cache.DefaultConfig, got %+v", got)
	}

	section := config.Default().Cache
	section.Capacity = 50
	section.TTL = time.Second
	got := cacheConfig(section)
	if got.Capacity != 50 || got.TTL != time.Second {
		t.Errorf("expected capacity 50 and ttl 1s, got %+v", got)
	}
	if got.NumShards != section.NumShards || got.EvictionPercentage != section.EvictionPercentage {
		t.Errorf("expected shards and eviction from the section, got %+v", got)
	}
}

func TestContainer_SQLiteBackend(t *testing.T) {
	cfg := quietConfig()
	cfg.Store = config.StoreConfig{
		Driver:       config.DriverSQLite,
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 1,
	}
	cfg.Cache.Enabled = false
	c := newContainer(t, cfg)
	ctx := context.Background()

	repo, err := NewRepository[User](c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.AddOrUpdate(ctx, User{ID: "u1", Name: "Ana"}); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	n, err := repo.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count: (%d, %v)", n, err)
	}
}
