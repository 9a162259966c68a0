package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-docrepo/store"
)

type databaseRow struct {
	bun.BaseModel `bun:"table:docrepo_databases,alias:d"`

	ID        string `bun:"id,pk"`
	RID       string `bun:"rid,notnull"`
	ETag      string `bun:"etag,notnull"`
	Timestamp int64  `bun:"ts,notnull"`
}

type collectionRow struct {
	bun.BaseModel `bun:"table:docrepo_collections,alias:c"`

	DatabaseID string `bun:"database_id,pk"`
	ID         string `bun:"id,pk"`
	RID        string `bun:"rid,notnull"`
	ETag       string `bun:"etag,notnull"`
	Timestamp  int64  `bun:"ts,notnull"`
}

type documentRow struct {
	bun.BaseModel `bun:"table:docrepo_documents,alias:doc"`

	CollectionLink string `bun:"collection_link,pk"`
	DocumentID     string `bun:"document_id,pk"`
	RID            string `bun:"rid,notnull"`
	Body           string `bun:"body,type:text,notnull"`
	ETag           string `bun:"etag,notnull"`
	Timestamp      int64  `bun:"ts,notnull"`
	Position       int64  `bun:"position,notnull"`
}

var models = []any{
	(*databaseRow)(nil),
	(*collectionRow)(nil),
	(*documentRow)(nil),
}

// Migrate creates the tables the store needs when they are missing.
func Migrate(ctx context.Context, db bun.IDB) error {
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

func (r databaseRow) resource() store.Database {
	return store.Database{Resource: store.Resource{
		ID:        r.ID,
		RID:       r.RID,
		SelfLink:  store.DatabaseLink(r.ID),
		ETag:      r.ETag,
		Timestamp: r.Timestamp,
	}}
}

func (r collectionRow) resource() store.Collection {
	self := store.CollectionLink(r.DatabaseID, r.ID)
	return store.Collection{
		Resource: store.Resource{
			ID:        r.ID,
			RID:       r.RID,
			SelfLink:  self,
			ETag:      r.ETag,
			Timestamp: r.Timestamp,
		},
		DocumentsLink: self + "/docs",
	}
}

// document decodes the stored body and restores the system attributes.
func (r documentRow) document() (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal([]byte(r.Body), &doc); err != nil {
		return nil, &store.StoreError{
			StatusCode: store.StatusUnprocessable,
			Code:       "CorruptDocument",
			Message:    fmt.Sprintf("document %q has an unreadable body", r.DocumentID),
			Err:        err,
		}
	}
	if doc == nil {
		doc = store.Document{}
	}
	doc[store.IDAttribute] = r.DocumentID
	doc[store.RIDAttribute] = r.RID
	doc[store.SelfAttribute] = r.CollectionLink + "/docs/" + r.DocumentID
	doc[store.ETagAttribute] = r.ETag
	doc[store.TimestampAttribute] = float64(r.Timestamp)
	return doc, nil
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
