package docrepo

import (
	"context"
	"fmt"
	"iter"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-docrepo/query"
	"github.com/goliatone/go-docrepo/store"
)

// Queryable composes filters, a limit and projections over one repository.
// Each method returns a new Queryable; the receiver is never modified.
// Invalid filters or paths are recorded when composed and returned by Err and
// by every terminal method before any call reaches the store.
type Queryable[T any] struct {
	repo    *DocumentRepository[T]
	filters []query.Filter
	limit   int
	err     error
}

func (q *Queryable[T]) clone() *Queryable[T] {
	c := *q
	c.filters = append([]query.Filter(nil), q.filters...)
	return &c
}

// Where adds a filter. Successive filters are combined with AND.
func (q *Queryable[T]) Where(filter query.Filter) *Queryable[T] {
	c := q.clone()
	if c.err != nil {
		return c
	}
	compiled, err := c.repo.compile(filter)
	if err != nil {
		c.err = err
		return c
	}
	c.filters = append(c.filters, compiled)
	return c
}

// Limit caps the number of entities returned. Zero removes the cap.
func (q *Queryable[T]) Limit(n int) *Queryable[T] {
	c := q.clone()
	if n < 0 && c.err == nil {
		c.err = invalidArgument("limit must not be negative, got %d", n)
	}
	c.limit = n
	return c
}

// Err returns the first error recorded while composing the query.
func (q *Queryable[T]) Err() error { return q.err }

// Filter returns the conjunction of every filter added so far, or nil.
func (q *Queryable[T]) Filter() query.Filter {
	switch len(q.filters) {
	case 0:
		return nil
	case 1:
		return q.filters[0]
	}
	return query.AllOf(q.filters...)
}

// Text renders the query in the store's native query language.
func (q *Queryable[T]) Text() (string, []query.Param) {
	return query.Render(q.Filter())
}

func (q *Queryable[T]) String() string {
	return query.Key(q.Filter())
}

// All lazily enumerates the matching entities.
func (q *Queryable[T]) All(ctx context.Context) iter.Seq2[T, error] {
	if q.err != nil {
		return func(yield func(T, error) bool) {
			var zero T
			yield(zero, q.err)
		}
	}
	return q.repo.entities(ctx, q.Filter(), q.limit)
}

// List collects the matching entities.
func (q *Queryable[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range q.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// First returns the first matching entity.
func (q *Queryable[T]) First(ctx context.Context) (T, bool, error) {
	var zero T
	if q.err != nil {
		return zero, false, q.err
	}
	return q.repo.first(ctx, q.Filter())
}

// Count returns the number of matching entities, honouring Limit.
func (q *Queryable[T]) Count(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.repo.count(ctx, q.Filter(), q.limit)
}

// Select projects every matching document onto the attribute at path.
func (q *Queryable[T]) Select(path string) *Projection {
	return q.project().Select(path)
}

// SelectMany projects every matching document onto the sequence at path and
// flattens it, so that each element becomes one value.
func (q *Queryable[T]) SelectMany(path string) *Projection {
	return q.project().SelectMany(path)
}

func (q *Queryable[T]) project() *Projection {
	filter, limit := q.Filter(), q.limit
	return &Projection{
		schema: q.repo.descriptor,
		err:    q.err,
		source: func(ctx context.Context) iter.Seq2[store.Document, error] {
			return q.repo.documents(ctx, filter, limit)
		},
	}
}

type step struct {
	path    string
	flatten bool
}

// Projection maps matching documents onto attribute values. Documents that
// lack a projected attribute contribute nothing.
type Projection struct {
	source func(ctx context.Context) iter.Seq2[store.Document, error]
	schema query.Schema
	steps  []step
	err    error
}

// Select narrows each value to the attribute at path.
func (p *Projection) Select(path string) *Projection {
	return p.then(path, false)
}

// SelectMany narrows each value to the sequence at path and flattens it.
func (p *Projection) SelectMany(path string) *Projection {
	return p.then(path, true)
}

func (p *Projection) then(path string, flatten bool) *Projection {
	c := *p
	c.steps = append(append([]step(nil), p.steps...), step{path: path, flatten: flatten})
	if c.err != nil {
		return &c
	}
	schema, err := resolvePath(p.schema, path)
	if err == nil && flatten {
		var ok bool
		if schema, ok = schema.Elem(); !ok {
			err = unsupportedPath("attribute %q is not a sequence", path)
		}
	}
	c.schema, c.err = schema, err
	return &c
}

// Err returns the first error recorded while composing the projection.
func (p *Projection) Err() error { return p.err }

// Values lazily enumerates the projected values.
func (p *Projection) Values(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if p.err != nil {
			yield(nil, p.err)
			return
		}
		for doc, err := range p.source(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, v := range p.apply(map[string]any(doc)) {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

// List collects the projected values.
func (p *Projection) List(ctx context.Context) ([]any, error) {
	var out []any
	for v, err := range p.Values(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *Projection) apply(doc any) []any {
	values := []any{doc}
	for _, s := range p.steps {
		var next []any
		for _, v := range values {
			got, ok := query.Lookup(v, s.path)
			if !ok {
				continue
			}
			if s.flatten {
				next = append(next, query.Flatten(got)...)
			} else {
				next = append(next, got)
			}
		}
		values = next
	}
	return values
}

func resolvePath(schema query.Schema, path string) (query.Schema, error) {
	if path == "" {
		return nil, unsupportedPath("projection path is empty")
	}
	cur := schema
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, unsupportedPath("projection path %q has an empty segment", path)
		}
		next, ok := cur.Attribute(seg)
		if !ok {
			return nil, unsupportedPath("unknown attribute %q in projection path %q", seg, path)
		}
		cur = next
	}
	return cur, nil
}

func unsupportedPath(format string, args ...any) error {
	return goerrors.Wrap(query.ErrUnsupportedPredicate, goerrors.CategoryBadInput, fmt.Sprintf(format, args...)).
		WithTextCode("UNSUPPORTED_PREDICATE")
}
