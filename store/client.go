package store

import (
	"context"

	"github.com/goliatone/go-docrepo/query"
)

// Client is the store-client boundary the repository consumes. Every call may
// fail with a *StoreError; transient failures are retried only when the client
// is wrapped by a resilience layer.
type Client interface {
	CreateDatabase(ctx context.Context, name string) (*ResourceResponse[Database], error)
	QueryDatabases(ctx context.Context, filter query.Filter) ([]Database, error)

	CreateCollection(ctx context.Context, databaseLink, name string) (*ResourceResponse[Collection], error)
	QueryCollections(ctx context.Context, databaseLink string, filter query.Filter) ([]Collection, error)
	DeleteCollection(ctx context.Context, collectionLink string) (*Response, error)

	CreateDocument(ctx context.Context, collectionLink string, doc Document) (*ResourceResponse[Document], error)
	UpsertDocument(ctx context.Context, collectionLink string, doc Document) (*ResourceResponse[Document], error)
	ReplaceDocument(ctx context.Context, documentLink string, doc Document) (*ResourceResponse[Document], error)
	DeleteDocument(ctx context.Context, documentLink string) (*Response, error)
	QueryDocuments(ctx context.Context, collectionLink string, q Query) (FeedIterator, error)
}

// Response carries the status of a store call.
type Response struct {
	StatusCode int
	ActivityID string
}

// ResourceResponse carries the status of a store call plus the resource it returned.
type ResourceResponse[T any] struct {
	Response
	Resource T
}

// DefaultMaxItemCount is the page size used when a Query does not set one.
const DefaultMaxItemCount = 100

// Query selects documents in a collection. A nil Filter selects all of them.
type Query struct {
	Filter       query.Filter
	MaxItemCount int
	Continuation string
}

// PageSize returns MaxItemCount or the default page size.
func (q Query) PageSize() int {
	if q.MaxItemCount <= 0 {
		return DefaultMaxItemCount
	}
	return q.MaxItemCount
}

// FeedResponse is one page of query results.
type FeedResponse struct {
	Response
	Documents    []Document
	Continuation string
}

// FeedIterator pages through query results. Pages are fetched on demand.
type FeedIterator interface {
	HasMoreResults() bool
	ReadNext(ctx context.Context) (*FeedResponse, error)
}

// PageFunc fetches the page that starts at continuation.
type PageFunc func(ctx context.Context, continuation string) (*FeedResponse, error)

type pagedIterator struct {
	fetch        PageFunc
	continuation string
	done         bool
}

// NewFeedIterator returns a FeedIterator that calls fetch once per page and
// stops after a page with an empty continuation.
func NewFeedIterator(fetch PageFunc, continuation string) FeedIterator {
	return &pagedIterator{fetch: fetch, continuation: continuation}
}

func (it *pagedIterator) HasMoreResults() bool {
	return !it.done
}

func (it *pagedIterator) ReadNext(ctx context.Context) (*FeedResponse, error) {
	if it.done {
		return &FeedResponse{Response: Response{StatusCode: StatusOK}}, nil
	}
	page, err := it.fetch(ctx, it.continuation)
	if err != nil {
		return nil, err
	}
	it.continuation = page.Continuation
	it.done = page.Continuation == ""
	return page, nil
}

// ReadAll drains it into a slice.
func ReadAll(ctx context.Context, it FeedIterator) ([]Document, error) {
	var docs []Document
	for it.HasMoreResults() {
		page, err := it.ReadNext(ctx)
		if err != nil {
			return nil, err
		}
		docs = append(docs, page.Documents...)
	}
	return docs, nil
}
