// Package resilience decorates a store.Client with retries for transient
// store failures. Backoff is exponential with an optional immediate first
// retry, and a server-provided RetryAfter hint always wins when it is longer.
package resilience

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/query"
	"github.com/goliatone/go-docrepo/store"
)

// Policy controls how many times and how long apart a call is retried.
type Policy struct {
	// MaxAttempts counts the first call. 1 disables retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// FastFirstRetry retries the first failure without waiting.
	FastFirstRetry bool
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		FastFirstRetry: true,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&p.BaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&p.MaxDelay, validation.Min(p.BaseDelay)),
	)
}

// Delay returns how long to wait before retry number n (1-based) after err.
func (p Policy) Delay(n int, err error) time.Duration {
	var delay time.Duration
	switch {
	case n < 1:
	case p.FastFirstRetry && n == 1:
	default:
		exp := n - 1
		if p.FastFirstRetry {
			exp--
		}
		delay = p.BaseDelay
		for range exp {
			delay *= 2
			if p.MaxDelay > 0 && delay >= p.MaxDelay {
				break
			}
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	var se *store.StoreError
	if errors.As(err, &se) && se.RetryAfter > delay {
		delay = se.RetryAfter
	}
	return delay
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used to report retries.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(fn Sleeper) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// Client is a store.Client that retries transient failures of the wrapped client.
type Client struct {
	next   store.Client
	policy Policy
	logger *zap.Logger
	sleep  Sleeper
}

var _ store.Client = (*Client)(nil)

// Wrap decorates next with policy. A policy with MaxAttempts below 1 is
// treated as a single attempt.
func Wrap(next store.Client, policy Policy, opts ...Option) *Client {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	c := &Client{
		next:   next,
		policy: policy,
		logger: zap.NewNop(),
		sleep:  sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Unwrap returns the decorated client.
func (c *Client) Unwrap() store.Client {
	return c.next
}

func execute[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}

		out, err := fn(ctx)
		if err == nil || !store.IsTransient(err) || attempt >= c.policy.MaxAttempts {
			if err != nil && attempt > 1 {
				c.logger.Debug("store call failed after retries",
					zap.String("operation", op),
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
			}
			return out, err
		}

		delay := c.policy.Delay(attempt, err)
		c.logger.Warn("retrying store call",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Int("status", store.StatusOf(err)),
		)
		if err := c.sleep(ctx, delay); err != nil {
			var zero T
			return zero, err
		}
	}
}

func (c *Client) CreateDatabase(ctx context.Context, name string) (*store.ResourceResponse[store.Database], error) {
	return execute(ctx, c, "CreateDatabase", func(ctx context.Context) (*store.ResourceResponse[store.Database], error) {
		return c.next.CreateDatabase(ctx, name)
	})
}

func (c *Client) QueryDatabases(ctx context.Context, filter query.Filter) ([]store.Database, error) {
	return execute(ctx, c, "QueryDatabases", func(ctx context.Context) ([]store.Database, error) {
		return c.next.QueryDatabases(ctx, filter)
	})
}

func (c *Client) CreateCollection(ctx context.Context, databaseLink, name string) (*store.ResourceResponse[store.Collection], error) {
	return execute(ctx, c, "CreateCollection", func(ctx context.Context) (*store.ResourceResponse[store.Collection], error) {
		return c.next.CreateCollection(ctx, databaseLink, name)
	})
}

func (c *Client) QueryCollections(ctx context.Context, databaseLink string, filter query.Filter) ([]store.Collection, error) {
	return execute(ctx, c, "QueryCollections", func(ctx context.Context) ([]store.Collection, error) {
		return c.next.QueryCollections(ctx, databaseLink, filter)
	})
}

func (c *Client) DeleteCollection(ctx context.Context, collectionLink string) (*store.Response, error) {
	return execute(ctx, c, "DeleteCollection", func(ctx context.Context) (*store.Response, error) {
		return c.next.DeleteCollection(ctx, collectionLink)
	})
}

func (c *Client) CreateDocument(ctx context.Context, collectionLink string, doc store.Document) (*store.ResourceResponse[store.Document], error) {
	return execute(ctx, c, "CreateDocument", func(ctx context.Context) (*store.ResourceResponse[store.Document], error) {
		return c.next.CreateDocument(ctx, collectionLink, doc)
	})
}

func (c *Client) UpsertDocument(ctx context.Context, collectionLink string, doc store.Document) (*store.ResourceResponse[store.Document], error) {
	return execute(ctx, c, "UpsertDocument", func(ctx context.Context) (*store.ResourceResponse[store.Document], error) {
		return c.next.UpsertDocument(ctx, collectionLink, doc)
	})
}

func (c *Client) ReplaceDocument(ctx context.Context, documentLink string, doc store.Document) (*store.ResourceResponse[store.Document], error) {
	return execute(ctx, c, "ReplaceDocument", func(ctx context.Context) (*store.ResourceResponse[store.Document], error) {
		return c.next.ReplaceDocument(ctx, documentLink, doc)
	})
}

func (c *Client) DeleteDocument(ctx context.Context, documentLink string) (*store.Response, error) {
	return execute(ctx, c, "DeleteDocument", func(ctx context.Context) (*store.Response, error) {
		return c.next.DeleteDocument(ctx, documentLink)
	})
}

// QueryDocuments retries opening the query and every page read.
func (c *Client) QueryDocuments(ctx context.Context, collectionLink string, q store.Query) (store.FeedIterator, error) {
	it, err := execute(ctx, c, "QueryDocuments", func(ctx context.Context) (store.FeedIterator, error) {
		return c.next.QueryDocuments(ctx, collectionLink, q)
	})
	if err != nil {
		return nil, err
	}
	return &feedIterator{next: it, client: c}, nil
}

type feedIterator struct {
	next   store.FeedIterator
	client *Client
}

func (it *feedIterator) HasMoreResults() bool {
	return it.next.HasMoreResults()
}

func (it *feedIterator) ReadNext(ctx context.Context) (*store.FeedResponse, error) {
	return execute(ctx, it.client, "ReadNext", it.next.ReadNext)
}
