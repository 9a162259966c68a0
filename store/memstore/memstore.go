// Package memstore is an in-process store.Client. It keeps every database,
// collection and document in memory and evaluates filters with query.Match,
// so it behaves like the remote store for tests and local development.
package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/query"
	"github.com/goliatone/go-docrepo/store"
)

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the function used to assign ids to documents created
// without one.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithClock sets the time source used for the _ts attribute.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type collection struct {
	resource store.Collection
	docs     map[string]store.Document
	order    []string
}

type database struct {
	resource store.Database
	colls    map[string]*collection
	order    []string
}

// Store is a concurrency-safe in-memory document store.
type Store struct {
	mu     sync.RWMutex
	dbs    map[string]*database
	order  []string
	seq    uint64
	newID  func() string
	now    func() time.Time
	logger *zap.Logger
}

var _ store.Client = (*Store)(nil)

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		dbs:    make(map[string]*database),
		newID:  uuid.NewString,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) nextRID() string {
	s.seq++
	return strconv.FormatUint(s.seq, 36)
}

func (s *Store) stamp(res *store.Resource, id, self string) {
	res.ID = id
	res.RID = s.nextRID()
	res.SelfLink = self
	res.Timestamp = s.now().Unix()
	res.ETag = strconv.Quote(uuid.NewString())
}

func response(status int) store.Response {
	return store.Response{StatusCode: status, ActivityID: uuid.NewString()}
}

// CreateDatabase creates a database. It fails with 409 when it already exists.
func (s *Store) CreateDatabase(ctx context.Context, name string) (*store.ResourceResponse[store.Database], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateName("database", name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dbs[name]; exists {
		return nil, store.NewError(store.StatusConflict, "database %q already exists", name)
	}
	db := &database{colls: make(map[string]*collection)}
	s.stamp(&db.resource.Resource, name, store.DatabaseLink(name))
	s.dbs[name] = db
	s.order = append(s.order, name)

	s.logger.Debug("database created", zap.String("database", name))
	return &store.ResourceResponse[store.Database]{Response: response(store.StatusCreated), Resource: db.resource}, nil
}

// QueryDatabases returns the databases matching filter, in creation order.
func (s *Store) QueryDatabases(ctx context.Context, filter query.Filter) ([]store.Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Database
	for _, name := range s.order {
		db := s.dbs[name]
		if filter == nil || query.Match(filter, resourceDocument(db.resource.Resource)) {
			out = append(out, db.resource)
		}
	}
	return out, nil
}

// CreateCollection creates a collection in the database at databaseLink.
func (s *Store) CreateCollection(ctx context.Context, databaseLink, name string) (*store.ResourceResponse[store.Collection], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateName("collection", name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.database(databaseLink)
	if err != nil {
		return nil, err
	}
	if _, exists := db.colls[name]; exists {
		return nil, store.NewError(store.StatusConflict, "collection %q already exists", name)
	}

	coll := &collection{docs: make(map[string]store.Document)}
	self := store.CollectionLink(db.resource.ID, name)
	s.stamp(&coll.resource.Resource, name, self)
	coll.resource.DocumentsLink = self + "/docs"
	db.colls[name] = coll
	db.order = append(db.order, name)

	s.logger.Debug("collection created", zap.String("collection", self))
	return &store.ResourceResponse[store.Collection]{Response: response(store.StatusCreated), Resource: coll.resource}, nil
}

// QueryCollections returns the collections of a database matching filter.
func (s *Store) QueryCollections(ctx context.Context, databaseLink string, filter query.Filter) ([]store.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.database(databaseLink)
	if err != nil {
		return nil, err
	}
	var out []store.Collection
	for _, name := range db.order {
		coll := db.colls[name]
		if filter == nil || query.Match(filter, resourceDocument(coll.resource.Resource)) {
			out = append(out, coll.resource)
		}
	}
	return out, nil
}

// DeleteCollection removes a collection and every document in it.
func (s *Store) DeleteCollection(ctx context.Context, collectionLink string) (*store.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := store.ParseLink(collectionLink)
	if err != nil {
		return nil, err
	}
	db, err := s.database(store.DatabaseLink(link.Database))
	if err != nil {
		return nil, err
	}
	if _, exists := db.colls[link.Collection]; !exists {
		return nil, store.NewError(store.StatusNotFound, "collection %q not found", collectionLink)
	}
	delete(db.colls, link.Collection)
	db.order = remove(db.order, link.Collection)

	s.logger.Debug("collection deleted", zap.String("collection", collectionLink))
	resp := response(store.StatusNoContent)
	return &resp, nil
}

// CreateDocument inserts doc. A document without an id gets a generated one.
func (s *Store) CreateDocument(ctx context.Context, collectionLink string, doc store.Document) (*store.ResourceResponse[store.Document], error) {
	return s.write(ctx, collectionLink, doc, false)
}

// UpsertDocument inserts doc or replaces the document with the same id.
func (s *Store) UpsertDocument(ctx context.Context, collectionLink string, doc store.Document) (*store.ResourceResponse[store.Document], error) {
	return s.write(ctx, collectionLink, doc, true)
}

func (s *Store) write(ctx context.Context, collectionLink string, doc store.Document, upsert bool) (*store.ResourceResponse[store.Document], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(collectionLink)
	if err != nil {
		return nil, err
	}

	stored := doc.Clone()
	if stored == nil {
		stored = store.Document{}
	}
	id := stored.ID()
	if raw, set := stored[store.IDAttribute]; set && raw != nil && id == "" {
		if _, isString := raw.(string); !isString {
			return nil, store.NewError(store.StatusBadRequest, "document id must be a string, got %T", raw)
		}
	}
	if id == "" {
		id = s.newID()
		stored[store.IDAttribute] = id
	}
	if err := store.ValidateName("document", id); err != nil {
		return nil, err
	}

	_, exists := coll.docs[id]
	if exists && !upsert {
		return nil, store.NewError(store.StatusConflict, "document %q already exists", id)
	}

	s.put(coll, stored)
	status := store.StatusCreated
	if exists {
		status = store.StatusOK
	}
	return &store.ResourceResponse[store.Document]{Response: response(status), Resource: stored.Clone()}, nil
}

// ReplaceDocument replaces the document at documentLink. When doc carries an
// _etag that no longer matches the stored one the call fails with 412.
func (s *Store) ReplaceDocument(ctx context.Context, documentLink string, doc store.Document) (*store.ResourceResponse[store.Document], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := store.ParseLink(documentLink)
	if err != nil {
		return nil, err
	}
	if link.Document == "" {
		return nil, store.NewError(store.StatusBadRequest, "%q is not a document link", documentLink)
	}
	coll, err := s.collection(store.CollectionLink(link.Database, link.Collection))
	if err != nil {
		return nil, err
	}
	current, exists := coll.docs[link.Document]
	if !exists {
		return nil, store.NewError(store.StatusNotFound, "document %q not found", documentLink)
	}

	stored := doc.Clone()
	if stored == nil {
		stored = store.Document{}
	}
	if id := stored.ID(); id == "" {
		stored[store.IDAttribute] = link.Document
	} else if id != link.Document {
		return nil, store.NewError(store.StatusBadRequest, "document id %q does not match link %q", id, documentLink)
	}
	if tag := stored.ETag(); tag != "" && tag != current.ETag() {
		return nil, store.NewError(store.StatusPreconditionFailed, "document %q was modified", documentLink)
	}

	s.put(coll, stored)
	return &store.ResourceResponse[store.Document]{Response: response(store.StatusOK), Resource: stored.Clone()}, nil
}

// put stores doc with fresh system attributes. Callers hold the write lock.
func (s *Store) put(coll *collection, doc store.Document) {
	id := doc.ID()
	if _, exists := coll.docs[id]; !exists {
		coll.order = append(coll.order, id)
	}
	doc[store.RIDAttribute] = s.nextRID()
	doc[store.SelfAttribute] = coll.resource.DocumentsLink + "/" + id
	doc[store.ETagAttribute] = store.ComputeETag(doc)
	doc[store.TimestampAttribute] = float64(s.now().Unix())
	coll.docs[id] = doc
}

// DeleteDocument removes the document at documentLink.
func (s *Store) DeleteDocument(ctx context.Context, documentLink string) (*store.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := store.ParseLink(documentLink)
	if err != nil {
		return nil, err
	}
	if link.Document == "" {
		return nil, store.NewError(store.StatusBadRequest, "%q is not a document link", documentLink)
	}
	coll, err := s.collection(store.CollectionLink(link.Database, link.Collection))
	if err != nil {
		return nil, err
	}
	if _, exists := coll.docs[link.Document]; !exists {
		return nil, store.NewError(store.StatusNotFound, "document %q not found", documentLink)
	}
	delete(coll.docs, link.Document)
	coll.order = remove(coll.order, link.Document)

	resp := response(store.StatusNoContent)
	return &resp, nil
}

// QueryDocuments returns a paged iterator over the documents matching q.
// The result set is captured when the query starts; the continuation token is
// the offset of the next page in it.
func (s *Store) QueryDocuments(ctx context.Context, collectionLink string, q store.Query) (store.FeedIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	coll, err := s.collection(collectionLink)
	var matched []store.Document
	if err == nil {
		for _, id := range coll.order {
			doc := coll.docs[id]
			if q.Filter == nil || query.Match(q.Filter, map[string]any(doc)) {
				matched = append(matched, doc.Clone())
			}
		}
	}
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	size := q.PageSize()
	return store.NewFeedIterator(func(ctx context.Context, continuation string) (*store.FeedResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offset := 0
		if continuation != "" {
			n, err := strconv.Atoi(continuation)
			if err != nil || n < 0 || n > len(matched) {
				return nil, store.NewError(store.StatusBadRequest, "invalid continuation %q", continuation)
			}
			offset = n
		}
		end := min(offset+size, len(matched))
		page := &store.FeedResponse{Response: response(store.StatusOK), Documents: matched[offset:end]}
		if end < len(matched) {
			page.Continuation = strconv.Itoa(end)
		}
		return page, nil
	}, q.Continuation), nil
}

func (s *Store) database(link string) (*database, error) {
	parsed, err := store.ParseLink(link)
	if err != nil {
		return nil, err
	}
	db, exists := s.dbs[parsed.Database]
	if !exists {
		return nil, store.NewError(store.StatusNotFound, "database %q not found", parsed.Database)
	}
	return db, nil
}

func (s *Store) collection(link string) (*collection, error) {
	parsed, err := store.ParseLink(link)
	if err != nil {
		return nil, err
	}
	if parsed.Collection == "" {
		return nil, store.NewError(store.StatusBadRequest, "%q is not a collection link", link)
	}
	db, err := s.database(store.DatabaseLink(parsed.Database))
	if err != nil {
		return nil, err
	}
	coll, exists := db.colls[parsed.Collection]
	if !exists {
		return nil, store.NewError(store.StatusNotFound, "collection %q not found", link)
	}
	return coll, nil
}

func resourceDocument(r store.Resource) map[string]any {
	return map[string]any{
		store.IDAttribute:        r.ID,
		store.RIDAttribute:       r.RID,
		store.SelfAttribute:      r.SelfLink,
		store.ETagAttribute:      r.ETag,
		store.TimestampAttribute: float64(r.Timestamp),
	}
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
