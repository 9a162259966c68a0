package docrepo

import (
	"context"
	"iter"
	"reflect"

	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/entity"
	"github.com/goliatone/go-docrepo/provision"
	"github.com/goliatone/go-docrepo/query"
	"github.com/goliatone/go-docrepo/store"
)

// Repository is the typed surface over one collection of documents.
type Repository[T any] interface {
	// AddOrUpdate writes entity and returns the store's post-write state,
	// including a store-assigned identity when entity carried none.
	AddOrUpdate(ctx context.Context, entity T) (T, error)
	// GetByID returns the entity with the given identity. A missing document
	// is reported with ok=false and a nil error.
	GetByID(ctx context.Context, id string) (T, bool, error)
	// FirstOrDefault returns the first entity matching filter.
	FirstOrDefault(ctx context.Context, filter query.Filter) (T, bool, error)
	// Remove deletes the document with the given identity and reports
	// whether one existed.
	Remove(ctx context.Context, id string) (bool, error)
	// RemoveCollection deletes the whole collection. The next operation
	// provisions it again.
	RemoveCollection(ctx context.Context) (bool, error)
	Count(ctx context.Context) (int, error)
	CountWhere(ctx context.Context, filter query.Filter) (int, error)
	// GetAll lazily enumerates the collection. Ranging over the sequence again
	// queries the store again.
	GetAll(ctx context.Context) iter.Seq2[T, error]
	// Where validates filter and returns a lazy sequence of the matches.
	Where(ctx context.Context, filter query.Filter) (iter.Seq2[T, error], error)
	// Query returns a composable query over the collection.
	Query() *Queryable[T]
}

var _ Repository[any] = (*DocumentRepository[any])(nil)

// DocumentRepository implements Repository on top of a store.Client.
type DocumentRepository[T any] struct {
	client     store.Client
	databaseID string
	collection string
	descriptor *entity.Descriptor
	identity   entity.Field
	upsert     UpsertStrategy
	pageSize   int
	logger     *zap.Logger
	provision  *provision.Provisioner
}

// New builds a repository of T stored in databaseID. The identity field of T
// is resolved here; a type without a usable identity field fails before any
// call reaches the store.
func New[T any](client store.Client, databaseID string, opts ...Option) (*DocumentRepository[T], error) {
	if client == nil {
		return nil, invalidConfig("store client is required", nil)
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	d, err := entity.DescribeOf[T]()
	if err != nil {
		return nil, err
	}
	if s.CollectionName == "" {
		s.CollectionName = s.Naming(d.Type)
	}
	if err := s.validate(databaseID); err != nil {
		return nil, invalidConfig("invalid repository configuration", err)
	}

	identity, err := entity.ResolveIdentity(d, s.IdentityField)
	if err != nil {
		return nil, err
	}

	logger := s.Logger.With(
		zap.String("database", databaseID),
		zap.String("collection", s.CollectionName),
	)
	r := &DocumentRepository[T]{
		client:     client,
		databaseID: databaseID,
		collection: s.CollectionName,
		descriptor: d,
		identity:   identity,
		upsert:     s.Upsert,
		pageSize:   s.PageSize,
		logger:     logger,
		provision:  provision.New(client, databaseID, s.CollectionName, provision.WithLogger(logger)),
	}
	return r, nil
}

// DatabaseID returns the database the repository is bound to.
func (r *DocumentRepository[T]) DatabaseID() string { return r.databaseID }

// CollectionName returns the collection the repository is bound to.
func (r *DocumentRepository[T]) CollectionName() string { return r.collection }

// IdentityField returns the Go name of the resolved identity field.
func (r *DocumentRepository[T]) IdentityField() string { return r.identity.Name }

// Descriptor returns the field metadata of T.
func (r *DocumentRepository[T]) Descriptor() *entity.Descriptor { return r.descriptor }

// CollectionState reports whether the collection handle is provisioned.
func (r *DocumentRepository[T]) CollectionState() provision.State {
	return r.provision.CollectionState()
}

func (r *DocumentRepository[T]) collectionHandle(ctx context.Context) (store.Collection, error) {
	coll, err := r.provision.Collection(ctx)
	if err != nil {
		return store.Collection{}, storeFailure(err, "provision", r.provision.CollectionLink())
	}
	return coll, nil
}

func (r *DocumentRepository[T]) AddOrUpdate(ctx context.Context, e T) (T, error) {
	var zero T
	if isNil(e) {
		return zero, nilEntity[T]()
	}
	coll, err := r.collectionHandle(ctx)
	if err != nil {
		return zero, err
	}
	doc, err := store.EncodeDocument(e)
	if err != nil {
		return zero, invalidArgument("cannot encode %T: %v", e, err)
	}

	var resp *store.ResourceResponse[store.Document]
	switch r.upsert {
	case ReadModifyWrite:
		resp, err = r.readModifyWrite(ctx, coll, e, doc)
	default:
		resp, err = r.client.UpsertDocument(ctx, coll.SelfLink, doc)
		err = storeFailure(err, "upsert", coll.SelfLink)
	}
	if err != nil {
		return zero, err
	}

	out, err := r.decode(resp.Resource)
	if err != nil {
		return zero, err
	}
	r.logger.Debug("document written",
		zap.String("id", resp.Resource.ID()),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("strategy", r.upsert),
	)
	return out, nil
}

func (r *DocumentRepository[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	if id == "" {
		return zero, false, invalidArgument("id must not be empty")
	}
	return r.first(ctx, query.Eq(store.IDAttribute, id))
}

func (r *DocumentRepository[T]) FirstOrDefault(ctx context.Context, filter query.Filter) (T, bool, error) {
	var zero T
	compiled, err := r.compile(filter)
	if err != nil {
		return zero, false, err
	}
	return r.first(ctx, compiled)
}

func (r *DocumentRepository[T]) first(ctx context.Context, filter query.Filter) (T, bool, error) {
	var zero T
	doc, ok, err := r.firstDocument(ctx, filter)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := r.decode(doc)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (r *DocumentRepository[T]) firstDocument(ctx context.Context, filter query.Filter) (store.Document, bool, error) {
	for doc, err := range r.documents(ctx, filter, 1) {
		if err != nil {
			return nil, false, err
		}
		return doc, true, nil
	}
	return nil, false, nil
}

func (r *DocumentRepository[T]) Remove(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, invalidArgument("id must not be empty")
	}
	// no stored document can carry an id the store would reject
	if store.ValidateName("document", id) != nil {
		return false, nil
	}
	if _, err := r.collectionHandle(ctx); err != nil {
		return false, err
	}
	link := store.DocumentLink(r.databaseID, r.collection, id)
	if _, err := r.client.DeleteDocument(ctx, link); err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, storeFailure(err, "delete", link)
	}
	r.logger.Debug("document removed", zap.String("id", id))
	return true, nil
}

// RemoveCollection deletes the collection. Once the store has answered, the
// local handle is discarded even when it reports 404, so the next operation
// provisions the collection again.
func (r *DocumentRepository[T]) RemoveCollection(ctx context.Context) (bool, error) {
	link := r.provision.CollectionLink()
	_, err := r.client.DeleteCollection(ctx, link)
	if err == nil || store.StatusOf(err) != 0 {
		r.provision.InvalidateCollection()
	}
	switch {
	case err == nil:
		r.logger.Info("collection removed")
		return true, nil
	case store.IsNotFound(err):
		return false, nil
	default:
		return false, storeFailure(err, "delete collection", link)
	}
}

func (r *DocumentRepository[T]) Count(ctx context.Context) (int, error) {
	return r.count(ctx, nil, 0)
}

func (r *DocumentRepository[T]) CountWhere(ctx context.Context, filter query.Filter) (int, error) {
	compiled, err := r.compile(filter)
	if err != nil {
		return 0, err
	}
	return r.count(ctx, compiled, 0)
}

func (r *DocumentRepository[T]) count(ctx context.Context, filter query.Filter, limit int) (int, error) {
	n := 0
	for _, err := range r.documents(ctx, filter, limit) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

func (r *DocumentRepository[T]) GetAll(ctx context.Context) iter.Seq2[T, error] {
	return r.entities(ctx, nil, 0)
}

func (r *DocumentRepository[T]) Where(ctx context.Context, filter query.Filter) (iter.Seq2[T, error], error) {
	compiled, err := r.compile(filter)
	if err != nil {
		return nil, err
	}
	return r.entities(ctx, compiled, 0), nil
}

func (r *DocumentRepository[T]) Query() *Queryable[T] {
	return &Queryable[T]{repo: r}
}

func (r *DocumentRepository[T]) compile(filter query.Filter) (query.Filter, error) {
	return query.Compile(filter, r.descriptor)
}

// entities decodes the documents matching filter. Iteration stops at the
// first error, which is yielded with the zero value.
func (r *DocumentRepository[T]) entities(ctx context.Context, filter query.Filter, limit int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for doc, err := range r.documents(ctx, filter, limit) {
			if err != nil {
				yield(zero, err)
				return
			}
			v, err := r.decode(doc)
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// documents pages through the collection, fetching the next page only when
// the consumer asks for more. A positive limit stops after that many documents.
func (r *DocumentRepository[T]) documents(ctx context.Context, filter query.Filter, limit int) iter.Seq2[store.Document, error] {
	return func(yield func(store.Document, error) bool) {
		coll, err := r.collectionHandle(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		pageSize := r.pageSize
		if limit > 0 {
			pageSize = min(pageSize, limit)
		}
		it, err := r.client.QueryDocuments(ctx, coll.SelfLink, store.Query{Filter: filter, MaxItemCount: pageSize})
		if err != nil {
			yield(nil, storeFailure(err, "query", coll.SelfLink))
			return
		}

		seen := 0
		for it.HasMoreResults() {
			page, err := it.ReadNext(ctx)
			if err != nil {
				yield(nil, storeFailure(err, "query", coll.SelfLink))
				return
			}
			for _, doc := range page.Documents {
				if !yield(doc, nil) {
					return
				}
				seen++
				if limit > 0 && seen >= limit {
					return
				}
			}
		}
	}
}

func (r *DocumentRepository[T]) decode(doc store.Document) (T, error) {
	var v T
	if err := doc.Decode(&v); err != nil {
		return v, decodeFailure(err, doc.SelfLink())
	}
	return v, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
