// Package provision lazily resolves the database and collection a repository
// writes to, creating them in the store on first use.
package provision

import (
	"context"

	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/query"
	"github.com/goliatone/go-docrepo/store"
)

// GetOrCreateDatabase returns the database named id, creating it when the
// store has none. A create that loses a race with another process (409) is
// reconciled by querying again.
func GetOrCreateDatabase(ctx context.Context, client store.Client, id string, logger *zap.Logger) (store.Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	find := func() (store.Database, bool, error) {
		dbs, err := client.QueryDatabases(ctx, query.Eq(store.IDAttribute, id))
		if err != nil || len(dbs) == 0 {
			return store.Database{}, false, err
		}
		return dbs[0], true, nil
	}

	if db, ok, err := find(); err != nil || ok {
		if ok {
			logger.Debug("database found", zap.String("database", id))
		}
		return db, err
	}

	resp, err := client.CreateDatabase(ctx, id)
	if err == nil {
		logger.Info("database created", zap.String("database", id))
		return resp.Resource, nil
	}
	if !store.IsConflict(err) {
		return store.Database{}, err
	}
	db, ok, qerr := find()
	if qerr != nil {
		return store.Database{}, qerr
	}
	if !ok {
		return store.Database{}, err
	}
	logger.Debug("database created concurrently", zap.String("database", id))
	return db, nil
}

// GetOrCreateCollection returns the collection named id inside db, creating
// it when missing. Conflicts are reconciled like GetOrCreateDatabase.
func GetOrCreateCollection(ctx context.Context, client store.Client, db store.Database, id string, logger *zap.Logger) (store.Collection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	find := func() (store.Collection, bool, error) {
		colls, err := client.QueryCollections(ctx, db.SelfLink, query.Eq(store.IDAttribute, id))
		if err != nil || len(colls) == 0 {
			return store.Collection{}, false, err
		}
		return colls[0], true, nil
	}

	if coll, ok, err := find(); err != nil || ok {
		if ok {
			logger.Debug("collection found", zap.String("collection", coll.SelfLink))
		}
		return coll, err
	}

	resp, err := client.CreateCollection(ctx, db.SelfLink, id)
	if err == nil {
		logger.Info("collection created", zap.String("collection", resp.Resource.SelfLink))
		return resp.Resource, nil
	}
	if !store.IsConflict(err) {
		return store.Collection{}, err
	}
	coll, ok, qerr := find()
	if qerr != nil {
		return store.Collection{}, qerr
	}
	if !ok {
		return store.Collection{}, err
	}
	logger.Debug("collection created concurrently", zap.String("collection", coll.SelfLink))
	return coll, nil
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provisioner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Provisioner memoizes the database and collection handles of one repository.
type Provisioner struct {
	client       store.Client
	databaseID   string
	collectionID string
	logger       *zap.Logger

	database   *Lazy[store.Database]
	collection *Lazy[store.Collection]
}

// New returns a Provisioner for databaseID/collectionID. Nothing is sent to
// the store until Database or Collection is called.
func New(client store.Client, databaseID, collectionID string, opts ...Option) *Provisioner {
	p := &Provisioner{
		client:       client,
		databaseID:   databaseID,
		collectionID: collectionID,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.database = NewLazy(func(ctx context.Context) (store.Database, error) {
		return GetOrCreateDatabase(ctx, p.client, p.databaseID, p.logger)
	})
	p.collection = NewLazy(func(ctx context.Context) (store.Collection, error) {
		db, err := p.database.Get(ctx)
		if err != nil {
			return store.Collection{}, err
		}
		return GetOrCreateCollection(ctx, p.client, db, p.collectionID, p.logger)
	})
	return p
}

// Database returns the database handle, provisioning it on first use.
func (p *Provisioner) Database(ctx context.Context) (store.Database, error) {
	return p.database.Get(ctx)
}

// Collection returns the collection handle, provisioning the database and
// collection on first use.
func (p *Provisioner) Collection(ctx context.Context) (store.Collection, error) {
	return p.collection.Get(ctx)
}

// CollectionLink returns the address of the collection without provisioning it.
func (p *Provisioner) CollectionLink() string {
	return store.CollectionLink(p.databaseID, p.collectionID)
}

// InvalidateCollection discards the collection handle. The next Collection
// call provisions it again.
func (p *Provisioner) InvalidateCollection() {
	p.collection.Invalidate()
	p.logger.Debug("collection handle invalidated", zap.String("collection", p.CollectionLink()))
}

// CollectionState reports the lifecycle state of the collection handle.
func (p *Provisioner) CollectionState() State {
	return p.collection.State()
}
