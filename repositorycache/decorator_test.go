package repositorycache

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-docrepo/cache"
	"github.com/goliatone/go-docrepo/docrepo"
	"github.com/goliatone/go-docrepo/query"
	"github.com/goliatone/go-docrepo/store/memstore"
)

// TestUser is the cached entity used across these tests.
type TestUser struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// countingRepository forwards to a real repository and counts the reads that
// reach it. Sequences are counted when ranged, not when returned.
type countingRepository[T any] struct {
	docrepo.Repository[T]

	mu    sync.Mutex
	calls map[string]int
}

func (r *countingRepository[T]) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[op]++
}

func (r *countingRepository[T]) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *countingRepository[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	r.record(opGetByID)
	return r.Repository.GetByID(ctx, id)
}

func (r *countingRepository[T]) FirstOrDefault(ctx context.Context, f query.Filter) (T, bool, error) {
	r.record(opFirstOrDefault)
	return r.Repository.FirstOrDefault(ctx, f)
}

func (r *countingRepository[T]) Count(ctx context.Context) (int, error) {
	r.record(opCount)
	return r.Repository.Count(ctx)
}

func (r *countingRepository[T]) CountWhere(ctx context.Context, f query.Filter) (int, error) {
	r.record(opCountWhere)
	return r.Repository.CountWhere(ctx, f)
}

func (r *countingRepository[T]) GetAll(ctx context.Context) iter.Seq2[T, error] {
	return r.counted(opGetAll, r.Repository.GetAll(ctx))
}

func (r *countingRepository[T]) Where(ctx context.Context, f query.Filter) (iter.Seq2[T, error], error) {
	seq, err := r.Repository.Where(ctx, f)
	if err != nil {
		return nil, err
	}
	return r.counted(opWhere, seq), nil
}

func (r *countingRepository[T]) counted(op string, seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		r.record(op)
		seq(yield)
	}
}

// failingDeletes makes every Delete fail while reads still work.
type failingDeletes struct {
	cache.CacheService
}

func (f failingDeletes) Delete(context.Context, string) error {
	return errors.New("cache unavailable")
}

type fixture struct {
	base   *countingRepository[TestUser]
	cached *CachedRepository[TestUser]
}

func newFixture(t *testing.T, keys cache.KeySerializer, opts ...Option) fixture {
	t.Helper()
	svc, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("cache service: %v", err)
	}
	return newFixtureWithCache(t, svc, keys, opts...)
}

func newFixtureWithCache(t *testing.T, svc cache.CacheService, keys cache.KeySerializer, opts ...Option) fixture {
	t.Helper()
	repo, err := docrepo.New[TestUser](memstore.New(), "Users")
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	base := &countingRepository[TestUser]{Repository: repo}
	f := fixture{base: base, cached: New[TestUser](base, svc, keys, opts...)}

	ctx := context.Background()
	for _, u := range []TestUser{
		{ID: "u1", Name: "Jack", Active: true},
		{ID: "u2", Name: "Ana", Active: true},
		{ID: "u3", Name: "Zoe"},
	} {
		if _, err := repo.AddOrUpdate(ctx, u); err != nil {
			t.Fatalf("seed %s: %v", u.ID, err)
		}
	}
	return f
}

func names(t *testing.T, seq iter.Seq2[TestUser, error]) map[string]bool {
	t.Helper()
	out := map[string]bool{}
	for u, err := range seq {
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		out[u.Name] = true
	}
	return out
}

func TestCachedRepository_GetByIDIsCached(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for range 3 {
		u, ok, err := f.cached.GetByID(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("GetByID: (%v, %v)", ok, err)
		}
		if u.Name != "Jack" {
			t.Errorf("expected Jack, got %q", u.Name)
		}
	}
	if n := f.base.count(opGetByID); n != 1 {
		t.Errorf("expected one base call, got %d", n)
	}
}

func TestCachedRepository_AbsenceIsCached(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for range 2 {
		_, ok, err := f.cached.GetByID(ctx, "missing")
		if err != nil || ok {
			t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
		}
	}
	if n := f.base.count(opGetByID); n != 1 {
		t.Errorf("expected absence to be cached, got %d base calls", n)
	}

	// A write of that identity makes it visible.
	if _, err := f.cached.AddOrUpdate(ctx, TestUser{ID: "missing", Name: "Lee"}); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	u, ok, err := f.cached.GetByID(ctx, "missing")
	if err != nil || !ok || u.Name != "Lee" {
		t.Fatalf("expected Lee after write, got (%v, %v, %v)", u, ok, err)
	}
}

func TestCachedRepository_CountsAreCached(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	active := query.IsTrue("active")

	for range 2 {
		if n, err := f.cached.Count(ctx); err != nil || n != 3 {
			t.Fatalf("Count: (%d, %v)", n, err)
		}
		if n, err := f.cached.CountWhere(ctx, active); err != nil || n != 2 {
			t.Fatalf("CountWhere: (%d, %v)", n, err)
		}
	}
	if f.base.count(opCount) != 1 || f.base.count(opCountWhere) != 1 {
		t.Errorf("expected one base call each, got %v", f.base.calls)
	}

	// Equal filters built separately share a key.
	if _, err := f.cached.CountWhere(ctx, query.IsTrue("active")); err != nil {
		t.Fatal(err)
	}
	if n := f.base.count(opCountWhere); n != 1 {
		t.Errorf("expected equal filters to share a cache entry, got %d base calls", n)
	}
}

func TestCachedRepository_AddOrUpdateInvalidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	mustGet := func(id string) TestUser {
		t.Helper()
		u, ok, err := f.cached.GetByID(ctx, id)
		if err != nil || !ok {
			t.Fatalf("GetByID(%s): (%v, %v)", id, ok, err)
		}
		return u
	}

	mustGet("u1")
	mustGet("u2")
	if _, err := f.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := f.cached.AddOrUpdate(ctx, TestUser{ID: "u1", Name: "Jackie", Active: true}); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}

	if u := mustGet("u1"); u.Name != "Jackie" {
		t.Errorf("expected updated name, got %q", u.Name)
	}
	mustGet("u2")
	if n := f.base.count(opGetByID); n != 3 {
		t.Errorf("expected only u1 to be refetched, got %d base calls", n)
	}

	if n, _ := f.cached.Count(ctx); n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
	if n := f.base.count(opCount); n != 2 {
		t.Errorf("expected Count to be refetched after a write, got %d base calls", n)
	}
}

func TestCachedRepository_AddOrUpdateWithGeneratedIdentity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if n, _ := f.cached.Count(ctx); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	created, err := f.cached.AddOrUpdate(ctx, TestUser{Name: "Nameless"})
	if err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected the store to assign an identity")
	}
	if n, _ := f.cached.Count(ctx); n != 4 {
		t.Errorf("expected 4 after create, got %d", n)
	}
}

func TestCachedRepository_RemoveInvalidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, _, err := f.cached.GetByID(ctx, "u3"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}

	removed, err := f.cached.Remove(ctx, "missing")
	if err != nil || removed {
		t.Fatalf("Remove(missing): (%v, %v)", removed, err)
	}
	if _, err := f.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}
	if n := f.base.count(opCount); n != 1 {
		t.Errorf("removing nothing should keep cached queries, got %d base calls", n)
	}

	removed, err = f.cached.Remove(ctx, "u3")
	if err != nil || !removed {
		t.Fatalf("Remove(u3): (%v, %v)", removed, err)
	}
	if _, ok, _ := f.cached.GetByID(ctx, "u3"); ok {
		t.Error("expected u3 to be gone")
	}
	if n, _ := f.cached.Count(ctx); n != 2 {
		t.Errorf("expected 2 after remove, got %d", n)
	}
}

func TestCachedRepository_SequencesAreMaterialized(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	all := f.cached.GetAll(ctx)
	first := names(t, all)
	second := names(t, all)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 users on each pass, got %v and %v", first, second)
	}
	if n := f.base.count(opGetAll); n != 1 {
		t.Errorf("expected the base sequence to be ranged once, got %d", n)
	}

	if _, err := f.cached.AddOrUpdate(ctx, TestUser{ID: "u4", Name: "Lee"}); err != nil {
		t.Fatal(err)
	}
	if got := names(t, all); !got["Lee"] {
		t.Errorf("expected replay after a write to see Lee, got %v", got)
	}

	seq, err := f.cached.Where(ctx, query.IsTrue("active"))
	if err != nil {
		t.Fatalf("Where: %v", err)
	}
	for range 2 {
		if got := names(t, seq); len(got) != 2 || !got["Jack"] || !got["Ana"] {
			t.Errorf("unexpected matches %v", got)
		}
	}
	if n := f.base.count(opWhere); n != 1 {
		t.Errorf("expected Where to be ranged once, got %d", n)
	}
}

func TestCachedRepository_EarlyBreakStillCaches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for range f.cached.GetAll(ctx) {
		break
	}
	if got := names(t, f.cached.GetAll(ctx)); len(got) != 3 {
		t.Errorf("expected full replay, got %v", got)
	}
	if n := f.base.count(opGetAll); n != 1 {
		t.Errorf("expected a single materialization, got %d", n)
	}
}

func TestCachedRepository_InvalidFilterFailsBeforeCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.cached.Where(ctx, query.Eq("Name", "Jack")); !errors.Is(err, query.ErrUnsupportedPredicate) {
		t.Fatalf("expected unsupported predicate, got %v", err)
	}
	if _, err := f.cached.CountWhere(ctx, query.Gt("active", true)); !errors.Is(err, query.ErrUnsupportedPredicate) {
		t.Fatalf("expected unsupported predicate, got %v", err)
	}
	// Errors are not cached.
	if _, err := f.cached.CountWhere(ctx, query.Gt("active", true)); err == nil {
		t.Fatal("expected the error again")
	}
	if n := f.base.count(opCountWhere); n != 2 {
		t.Errorf("expected both failing calls to reach the base, got %d", n)
	}
}

func TestCachedRepository_RemoveCollectionDropsEverything(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, _, err := f.cached.GetByID(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}

	removed, err := f.cached.RemoveCollection(ctx)
	if err != nil || !removed {
		t.Fatalf("RemoveCollection: (%v, %v)", removed, err)
	}

	if _, ok, _ := f.cached.GetByID(ctx, "u1"); ok {
		t.Error("expected an empty collection after removal")
	}
	if n, _ := f.cached.Count(ctx); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
	if f.base.count(opGetByID) != 2 || f.base.count(opCount) != 2 {
		t.Errorf("expected every read to be refetched, got %v", f.base.calls)
	}
}

func TestCachedRepository_InvalidateTags(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tagged := WithCacheTags(ctx, "dashboard", "", "dashboard")

	if got := cacheTagsFromContext(tagged); len(got) != 1 || got[0] != "dashboard" {
		t.Fatalf("expected deduplicated tags, got %v", got)
	}

	if _, err := f.cached.Count(tagged); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.cached.GetByID(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	f.cached.InvalidateTags(ctx, "dashboard", "unknown")

	if _, err := f.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.cached.GetByID(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if n := f.base.count(opCount); n != 2 {
		t.Errorf("expected tagged Count to be refetched, got %d base calls", n)
	}
	if n := f.base.count(opGetByID); n != 1 {
		t.Errorf("untagged GetByID should stay cached, got %d base calls", n)
	}
}

func TestCachedRepository_NamespacedKeys(t *testing.T) {
	svc, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	users := newFixtureWithCache(t, svc, cache.NewNamespacedKeySerializer("users"))
	admins := newFixtureWithCache(t, svc, cache.NewNamespacedKeySerializer("admins"))
	ctx := context.Background()

	if _, err := users.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := admins.cached.Count(ctx); err != nil {
		t.Fatal(err)
	}
	if users.base.count(opCount) != 1 || admins.base.count(opCount) != 1 {
		t.Fatal("namespaces should not share entries")
	}

	if _, err := users.cached.AddOrUpdate(ctx, TestUser{ID: "u9", Name: "Kim"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := users.cached.Count(ctx); n != 4 {
		t.Errorf("expected 4 users, got %d", n)
	}
	if n, _ := admins.cached.Count(ctx); n != 3 {
		t.Errorf("expected admins to be untouched, got %d", n)
	}
	if n := admins.base.count(opCount); n != 1 {
		t.Errorf("expected admins Count to stay cached, got %d base calls", n)
	}
}

func TestCachedRepository_FailedInvalidationIsLogged(t *testing.T) {
	svc, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixtureWithCache(t, failingDeletes{svc}, nil, WithLogger(zap.New(core)))
	ctx := context.Background()

	if _, _, err := f.cached.GetByID(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cached.AddOrUpdate(ctx, TestUser{ID: "u1", Name: "Jackie"}); err != nil {
		t.Fatalf("a failed invalidation must not fail the write: %v", err)
	}
	if logs.FilterMessage("cache invalidation failed").Len() == 0 {
		t.Error("expected a warning for the failed invalidation")
	}
}

func TestCachedRepository_QueryPassesThrough(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	n, err := f.cached.Query().Where(query.IsTrue("active")).Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Query count: (%d, %v)", n, err)
	}
}
