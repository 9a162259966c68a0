package docrepo

import (
	"context"
	"reflect"

	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/entity"
	"github.com/goliatone/go-docrepo/query"
	"github.com/goliatone/go-docrepo/store"
)

// readModifyWrite merges e onto the stored document with the same identity
// and replaces it. Store-managed attributes and attributes T does not
// describe are carried over from the stored document; its _etag makes the
// replace fail with 412 if another writer got there first. Entities without
// an identity, or whose identity is not stored yet, are created.
func (r *DocumentRepository[T]) readModifyWrite(ctx context.Context, coll store.Collection, e T, doc store.Document) (*store.ResourceResponse[store.Document], error) {
	id := doc.ID()
	if id == "" {
		return r.create(ctx, coll, doc)
	}

	existing, found, err := r.firstDocument(ctx, query.Eq(store.IDAttribute, id))
	if err != nil {
		return nil, err
	}
	if !found {
		return r.create(ctx, coll, doc)
	}

	merged, err := r.merge(existing, e)
	if err != nil {
		return nil, err
	}

	link := existing.SelfLink()
	if link == "" {
		link = store.DocumentLink(r.databaseID, r.collection, id)
	}
	resp, err := r.client.ReplaceDocument(ctx, link, merged)
	if store.IsNotFound(err) {
		r.logger.Debug("document vanished before replace, creating it", zap.String("id", id))
		return r.create(ctx, coll, doc)
	}
	if err != nil {
		return nil, storeFailure(err, "replace", link)
	}
	return resp, nil
}

func (r *DocumentRepository[T]) create(ctx context.Context, coll store.Collection, doc store.Document) (*store.ResourceResponse[store.Document], error) {
	resp, err := r.client.CreateDocument(ctx, coll.SelfLink, doc)
	if err != nil {
		return nil, storeFailure(err, "create", coll.SelfLink)
	}
	return resp, nil
}

// merge returns the stored document with the fields of e applied to it. The
// identity of the stored document is kept.
func (r *DocumentRepository[T]) merge(existing store.Document, e T) (store.Document, error) {
	var current T
	if err := existing.Decode(&current); err != nil {
		return nil, decodeFailure(err, existing.SelfLink())
	}
	if err := entity.Merge(e, mergeTarget(&current), r.identity.Name, false); err != nil {
		return nil, err
	}
	updated, err := store.EncodeDocument(current)
	if err != nil {
		return nil, invalidArgument("cannot encode %T: %v", current, err)
	}

	out := existing.Clone()
	for _, f := range r.descriptor.Fields() {
		if f.Serialized() {
			delete(out, f.Attribute)
		}
	}
	for k, v := range updated {
		out[k] = v
	}
	return out, nil
}

// mergeTarget returns a pointer to the struct held by v, allocating it when
// T is itself a nil pointer type.
func mergeTarget[T any](v *T) any {
	rv := reflect.ValueOf(v).Elem()
	if rv.Kind() != reflect.Pointer {
		return v
	}
	if rv.IsNil() {
		rv.Set(reflect.New(rv.Type().Elem()))
	}
	return rv.Interface()
}
