// Package sqlstore persists databases, collections and documents in a SQL
// database through bun. Documents are stored as JSON text keyed by
// (collection link, document id); filters on the identity attribute are pushed
// into SQL and everything else is evaluated in process with query.Match.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/query"
	"github.com/goliatone/go-docrepo/store"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// scanBatch is how many rows a page fetch reads per round trip.
const scanBatch = 200

// Config describes the SQL connection.
type Config struct {
	Driver       string
	DSN          string
	QueryLog     bool
	MaxOpenConns int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator sets the function used to assign ids to documents created
// without one.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithClock sets the time source used for timestamps and insertion order.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is a store.Client backed by bun.
type Store struct {
	db     *bun.DB
	logger *zap.Logger
	newID  func() string
	now    func() time.Time
}

var _ store.Client = (*Store)(nil)

// Open connects to the configured database, runs Migrate and returns a Store.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	s := New(db, opts...)
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("schema ready", zap.String("driver", cfg.Driver))
	return s, nil
}

// Connect opens a bun.DB for cfg without touching the schema.
func Connect(cfg Config) (*bun.DB, error) {
	var (
		sqlDB *sql.DB
		db    *bun.DB
		err   error
	)

	switch cfg.Driver {
	case DriverMySQL:
		if sqlDB, err = sql.Open("mysql", cfg.DSN); err == nil {
			db = bun.NewDB(sqlDB, mysqldialect.New())
		}
	case DriverPostgres, "postgresql":
		if sqlDB, err = sql.Open("postgres", cfg.DSN); err == nil {
			db = bun.NewDB(sqlDB, pgdialect.New())
		}
	case DriverSQLite, "sqlite3":
		if sqlDB, err = sql.Open(sqliteshim.ShimName, cfg.DSN); err == nil {
			db = bun.NewDB(sqlDB, sqlitedialect.New())
		}
	default:
		return nil, fmt.Errorf("unsupported sql driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.QueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	return db, nil
}

// New wraps an existing bun.DB. The tables must already exist.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: zap.NewNop(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying bun.DB.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func response(status int) store.Response {
	return store.Response{StatusCode: status, ActivityID: uuid.NewString()}
}

func newTag() string {
	return strconv.Quote(uuid.NewString())
}

// CreateDatabase creates a database. It fails with 409 when it already exists.
func (s *Store) CreateDatabase(ctx context.Context, name string) (*store.ResourceResponse[store.Database], error) {
	if err := store.ValidateName("database", name); err != nil {
		return nil, err
	}
	row := &databaseRow{ID: name, RID: uuid.NewString(), ETag: newTag(), Timestamp: s.now().Unix()}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*databaseRow)(nil)).Where("id = ?", name).Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return store.NewError(store.StatusConflict, "database %q already exists", name)
		}
		_, err = tx.NewInsert().Model(row).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Debug("database created", zap.String("database", name))
	return &store.ResourceResponse[store.Database]{Response: response(store.StatusCreated), Resource: row.resource()}, nil
}

// QueryDatabases returns the databases matching filter.
func (s *Store) QueryDatabases(ctx context.Context, filter query.Filter) ([]store.Database, error) {
	var rows []databaseRow
	q := s.db.NewSelect().Model(&rows).OrderExpr("ts ASC, id ASC")
	if id, ok := query.IDEquals(filter); ok {
		q = q.Where("id = ?", id)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, translate(err)
	}

	var out []store.Database
	for _, row := range rows {
		res := row.resource()
		if filter == nil || query.Match(filter, resourceDocument(res.Resource)) {
			out = append(out, res)
		}
	}
	return out, nil
}

// CreateCollection creates a collection in the database at databaseLink.
func (s *Store) CreateCollection(ctx context.Context, databaseLink, name string) (*store.ResourceResponse[store.Collection], error) {
	link, err := store.ParseLink(databaseLink)
	if err != nil {
		return nil, err
	}
	if err := store.ValidateName("collection", name); err != nil {
		return nil, err
	}
	row := &collectionRow{DatabaseID: link.Database, ID: name, RID: uuid.NewString(), ETag: newTag(), Timestamp: s.now().Unix()}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := requireDatabase(ctx, tx, link.Database); err != nil {
			return err
		}
		exists, err := tx.NewSelect().Model((*collectionRow)(nil)).
			Where("database_id = ?", link.Database).
			Where("id = ?", name).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return store.NewError(store.StatusConflict, "collection %q already exists", name)
		}
		_, err = tx.NewInsert().Model(row).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	res := row.resource()
	s.logger.Debug("collection created", zap.String("collection", res.SelfLink))
	return &store.ResourceResponse[store.Collection]{Response: response(store.StatusCreated), Resource: res}, nil
}

// QueryCollections returns the collections of a database matching filter.
func (s *Store) QueryCollections(ctx context.Context, databaseLink string, filter query.Filter) ([]store.Collection, error) {
	link, err := store.ParseLink(databaseLink)
	if err != nil {
		return nil, err
	}
	if err := requireDatabase(ctx, s.db, link.Database); err != nil {
		return nil, translate(err)
	}

	var rows []collectionRow
	q := s.db.NewSelect().Model(&rows).Where("database_id = ?", link.Database).OrderExpr("ts ASC, id ASC")
	if id, ok := query.IDEquals(filter); ok {
		q = q.Where("id = ?", id)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, translate(err)
	}

	var out []store.Collection
	for _, row := range rows {
		res := row.resource()
		if filter == nil || query.Match(filter, resourceDocument(res.Resource)) {
			out = append(out, res)
		}
	}
	return out, nil
}

// DeleteCollection removes a collection and every document in it.
func (s *Store) DeleteCollection(ctx context.Context, collectionLink string) (*store.Response, error) {
	link, err := collectionOf(collectionLink)
	if err != nil {
		return nil, err
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*collectionRow)(nil)).
			Where("database_id = ?", link.Database).
			Where("id = ?", link.Collection).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return store.NewError(store.StatusNotFound, "collection %q not found", collectionLink)
		}
		_, err = tx.NewDelete().Model((*documentRow)(nil)).
			Where("collection_link = ?", store.CollectionLink(link.Database, link.Collection)).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

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
	link, err := collectionOf(collectionLink)
	if err != nil {
		return nil, err
	}
	canonical := store.CollectionLink(link.Database, link.Collection)

	id := doc.ID()
	if raw, set := doc[store.IDAttribute]; set && raw != nil && id == "" {
		if _, isString := raw.(string); !isString {
			return nil, store.NewError(store.StatusBadRequest, "document id must be a string, got %T", raw)
		}
	}
	if id == "" {
		id = s.newID()
	}
	if err := store.ValidateName("document", id); err != nil {
		return nil, err
	}

	row, err := s.newRow(canonical, id, doc)
	if err != nil {
		return nil, err
	}

	status := store.StatusCreated
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := requireCollection(ctx, tx, link); err != nil {
			return err
		}
		exists, err := documentExists(ctx, tx, canonical, id)
		if err != nil {
			return err
		}
		if exists {
			if !upsert {
				return store.NewError(store.StatusConflict, "document %q already exists", id)
			}
			status = store.StatusOK
		}
		return s.upsertRow(ctx, tx, row)
	})
	if err != nil {
		return nil, translate(err)
	}

	if status == store.StatusOK {
		// the stored position is kept on conflict; read back the canonical row.
		if err := s.db.NewSelect().Model(row).WherePK().Scan(ctx); err != nil {
			return nil, translate(err)
		}
	}
	out, err := row.document()
	if err != nil {
		return nil, err
	}
	return &store.ResourceResponse[store.Document]{Response: response(status), Resource: out}, nil
}

// upsertRow writes row, keeping the position of an existing row. The statement
// follows the dialect's conflict clause.
func (s *Store) upsertRow(ctx context.Context, tx bun.Tx, row *documentRow) error {
	fields := []string{"rid", "body", "etag", "ts"}
	insert := tx.NewInsert().Model(row)

	switch {
	case s.db.HasFeature(feature.InsertOnConflict):
		sets := make([]string, 0, len(fields))
		for _, f := range fields {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", f, f))
		}
		insert = insert.On("CONFLICT (collection_link, document_id) DO UPDATE").Set(strings.Join(sets, ", "))
	case s.db.HasFeature(feature.InsertOnDuplicateKey):
		sets := make([]string, 0, len(fields))
		for _, f := range fields {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", f, f))
		}
		insert = insert.On("DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
	default:
		if _, err := tx.NewDelete().Model(row).WherePK().Exec(ctx); err != nil {
			return err
		}
	}

	_, err := insert.Exec(ctx)
	return err
}

// ReplaceDocument replaces the document at documentLink. When doc carries an
// _etag that no longer matches the stored one the call fails with 412.
func (s *Store) ReplaceDocument(ctx context.Context, documentLink string, doc store.Document) (*store.ResourceResponse[store.Document], error) {
	link, err := store.ParseLink(documentLink)
	if err != nil {
		return nil, err
	}
	if link.Document == "" {
		return nil, store.NewError(store.StatusBadRequest, "%q is not a document link", documentLink)
	}
	if id := doc.ID(); id != "" && id != link.Document {
		return nil, store.NewError(store.StatusBadRequest, "document id %q does not match link %q", id, documentLink)
	}

	canonical := store.CollectionLink(link.Database, link.Collection)
	row, err := s.newRow(canonical, link.Document, doc)
	if err != nil {
		return nil, err
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current := &documentRow{CollectionLink: canonical, DocumentID: link.Document}
		if err := tx.NewSelect().Model(current).WherePK().Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.NewError(store.StatusNotFound, "document %q not found", documentLink)
			}
			return err
		}
		if tag := doc.ETag(); tag != "" && tag != current.ETag {
			return store.NewError(store.StatusPreconditionFailed, "document %q was modified", documentLink)
		}
		row.Position = current.Position
		_, err := tx.NewUpdate().Model(row).Column("rid", "body", "etag", "ts").WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	out, err := row.document()
	if err != nil {
		return nil, err
	}
	return &store.ResourceResponse[store.Document]{Response: response(store.StatusOK), Resource: out}, nil
}

// DeleteDocument removes the document at documentLink.
func (s *Store) DeleteDocument(ctx context.Context, documentLink string) (*store.Response, error) {
	link, err := store.ParseLink(documentLink)
	if err != nil {
		return nil, err
	}
	if link.Document == "" {
		return nil, store.NewError(store.StatusBadRequest, "%q is not a document link", documentLink)
	}

	canonical := store.CollectionLink(link.Database, link.Collection)
	res, err := s.db.NewDelete().Model((*documentRow)(nil)).
		Where("collection_link = ?", canonical).
		Where("document_id = ?", link.Document).
		Exec(ctx)
	if err != nil {
		return nil, translate(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if err := requireCollection(ctx, s.db, link); err != nil {
			return nil, translate(err)
		}
		return nil, store.NewError(store.StatusNotFound, "document %q not found", documentLink)
	}

	resp := response(store.StatusNoContent)
	return &resp, nil
}

// QueryDocuments returns a paged iterator over the documents matching q. The
// continuation token is the keyset (position, document id) of the last row
// scanned, so deletes between pages never shift later rows out of the feed. A
// page may hold fewer than MaxItemCount documents when the filter rejects rows.
func (s *Store) QueryDocuments(ctx context.Context, collectionLink string, q store.Query) (store.FeedIterator, error) {
	link, err := collectionOf(collectionLink)
	if err != nil {
		return nil, err
	}
	if err := requireCollection(ctx, s.db, link); err != nil {
		return nil, translate(err)
	}

	canonical := store.CollectionLink(link.Database, link.Collection)
	pushdown, hasID := query.IDEquals(q.Filter)
	size := q.PageSize()

	return store.NewFeedIterator(func(ctx context.Context, continuation string) (*store.FeedResponse, error) {
		after, resume, err := parseCursor(continuation)
		if err != nil {
			return nil, err
		}

		page := &store.FeedResponse{Response: response(store.StatusOK)}
		for {
			var rows []documentRow
			sel := s.db.NewSelect().Model(&rows).
				Where("collection_link = ?", canonical).
				OrderExpr("position ASC, document_id ASC").
				Limit(scanBatch)
			if hasID {
				sel = sel.Where("document_id = ?", pushdown)
			}
			if resume {
				sel = sel.WhereGroup(" AND ", func(w *bun.SelectQuery) *bun.SelectQuery {
					return w.Where("position > ?", after.position).
						WhereOr("position = ? AND document_id > ?", after.position, after.id)
				})
			}
			if err := sel.Scan(ctx); err != nil {
				return nil, translate(err)
			}

			for _, row := range rows {
				after, resume = cursor{position: row.Position, id: row.DocumentID}, true
				doc, err := row.document()
				if err != nil {
					return nil, err
				}
				if q.Filter == nil || query.Match(q.Filter, map[string]any(doc)) {
					page.Documents = append(page.Documents, doc)
				}
				if len(page.Documents) == size {
					page.Continuation = after.String()
					return page, nil
				}
			}
			if len(rows) < scanBatch {
				return page, nil
			}
		}
	}, q.Continuation), nil
}

// cursor is the ordering key of the last document row a page scanned.
type cursor struct {
	position int64
	id       string
}

func (c cursor) String() string {
	return strconv.FormatInt(c.position, 10) + ":" + c.id
}

// parseCursor decodes a continuation token. The empty token starts the feed.
func parseCursor(token string) (cursor, bool, error) {
	if token == "" {
		return cursor{}, false, nil
	}
	pos, id, ok := strings.Cut(token, ":")
	if !ok || id == "" {
		return cursor{}, false, store.NewError(store.StatusBadRequest, "invalid continuation %q", token)
	}
	n, err := strconv.ParseInt(pos, 10, 64)
	if err != nil {
		return cursor{}, false, store.NewError(store.StatusBadRequest, "invalid continuation %q", token)
	}
	return cursor{position: n, id: id}, true, nil
}

func (s *Store) newRow(collectionLink, id string, doc store.Document) (*documentRow, error) {
	body := doc.WithoutSystemAttributes()
	body[store.IDAttribute] = id
	data, err := json.Marshal(map[string]any(body))
	if err != nil {
		return nil, store.NewError(store.StatusBadRequest, "document %q is not serializable: %v", id, err)
	}
	now := s.now()
	return &documentRow{
		CollectionLink: collectionLink,
		DocumentID:     id,
		RID:            uuid.NewString(),
		Body:           string(data),
		ETag:           store.ComputeETag(body),
		Timestamp:      now.Unix(),
		Position:       now.UnixNano(),
	}, nil
}

func collectionOf(collectionLink string) (store.Link, error) {
	link, err := store.ParseLink(collectionLink)
	if err != nil {
		return store.Link{}, err
	}
	if link.Collection == "" || link.Document != "" {
		return store.Link{}, store.NewError(store.StatusBadRequest, "%q is not a collection link", collectionLink)
	}
	return link, nil
}

func requireDatabase(ctx context.Context, db bun.IDB, name string) error {
	exists, err := db.NewSelect().Model((*databaseRow)(nil)).Where("id = ?", name).Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return store.NewError(store.StatusNotFound, "database %q not found", name)
	}
	return nil
}

func requireCollection(ctx context.Context, db bun.IDB, link store.Link) error {
	exists, err := db.NewSelect().Model((*collectionRow)(nil)).
		Where("database_id = ?", link.Database).
		Where("id = ?", link.Collection).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return store.NewError(store.StatusNotFound, "collection %q not found", store.CollectionLink(link.Database, link.Collection))
	}
	return nil
}

func documentExists(ctx context.Context, db bun.IDB, collectionLink, id string) (bool, error) {
	return db.NewSelect().Model((*documentRow)(nil)).
		Where("collection_link = ?", collectionLink).
		Where("document_id = ?", id).
		Exists(ctx)
}

// translate maps driver failures onto store errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var se *store.StoreError
	if errors.As(err, &se) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &store.StoreError{StatusCode: store.StatusNotFound, Code: "NotFound", Message: "resource not found", Err: err}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &store.StoreError{StatusCode: store.StatusServiceUnavailable, Code: "ServiceUnavailable", Message: "connection lost", Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "duplicate key"), strings.Contains(msg, "duplicate entry"):
		return &store.StoreError{StatusCode: store.StatusConflict, Code: "Conflict", Message: "resource already exists", Err: err}
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "too many connections"),
		strings.Contains(msg, "connection refused"), strings.Contains(msg, "deadlock"):
		return &store.StoreError{StatusCode: store.StatusServiceUnavailable, Code: "ServiceUnavailable", Message: "database busy", Err: err}
	}
	return &store.StoreError{StatusCode: store.StatusInternal, Code: "InternalServerError", Message: "sql store failure", Err: err}
}
