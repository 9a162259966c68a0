package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Reserved document attributes. IDAttribute is the canonical identity attribute.
const (
	IDAttribute        = "id"
	RIDAttribute       = "_rid"
	SelfAttribute      = "_self"
	ETagAttribute      = "_etag"
	TimestampAttribute = "_ts"
)

// Resource holds the attributes shared by every provisioned resource.
type Resource struct {
	ID        string `json:"id"`
	RID       string `json:"_rid"`
	SelfLink  string `json:"_self"`
	ETag      string `json:"_etag"`
	Timestamp int64  `json:"_ts"`
}

// Database is a provisioned database resource.
type Database struct {
	Resource
}

// Collection is a provisioned collection resource inside a database.
type Collection struct {
	Resource
	DocumentsLink string `json:"_docs"`
}

// Document is the store's representation of an entity: a JSON object whose
// "id" attribute is the entity identity, plus store-managed "_" attributes.
type Document map[string]any

// ID returns the document identity, or "" when unset.
func (d Document) ID() string {
	id, _ := d[IDAttribute].(string)
	return id
}

// SelfLink returns the store-assigned address of the document.
func (d Document) SelfLink() string {
	link, _ := d[SelfAttribute].(string)
	return link
}

// ETag returns the store-assigned version tag of the document.
func (d Document) ETag() string {
	tag, _ := d[ETagAttribute].(string)
	return tag
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	}
	return v
}

// WithoutSystemAttributes returns a copy of d without store-managed attributes.
func (d Document) WithoutSystemAttributes() Document {
	out := make(Document, len(d))
	for k, v := range d {
		if !IsSystemAttribute(k) {
			out[k] = v
		}
	}
	return out
}

// IsSystemAttribute reports whether name is store-managed.
func IsSystemAttribute(name string) bool {
	return strings.HasPrefix(name, "_")
}

// Decode unmarshals the document into v.
func (d Document) Decode(v any) error {
	data, err := json.Marshal(map[string]any(d))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// EncodeDocument serializes v into a Document.
func EncodeDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("encode entity: %T does not serialize to a JSON object", v)
	}
	return doc, nil
}

// ComputeETag hashes the user attributes of d into a quoted version tag.
func ComputeETag(d Document) string {
	data, err := json.Marshal(map[string]any(d.WithoutSystemAttributes()))
	if err != nil {
		data = []byte(fmt.Sprint(d))
	}
	return strconv.Quote(strconv.FormatUint(xxhash.Sum64(data), 16))
}

// Link is a parsed resource address.
type Link struct {
	Database   string
	Collection string
	Document   string
}

// DatabaseLink returns the address of a database.
func DatabaseLink(db string) string {
	return "dbs/" + db
}

// CollectionLink returns the address of a collection.
func CollectionLink(db, coll string) string {
	return DatabaseLink(db) + "/colls/" + coll
}

// DocumentLink returns the address of a document.
func DocumentLink(db, coll, id string) string {
	return CollectionLink(db, coll) + "/docs/" + id
}

// ParseLink splits a database, collection or document address.
func ParseLink(link string) (Link, error) {
	parts := strings.Split(strings.Trim(link, "/"), "/")
	valid := len(parts)%2 == 0 && len(parts) >= 2 && len(parts) <= 6
	kinds := []string{"dbs", "colls", "docs"}
	var out Link
	for i := 0; valid && i < len(parts); i += 2 {
		if parts[i] != kinds[i/2] || parts[i+1] == "" {
			valid = false
			break
		}
		switch i / 2 {
		case 0:
			out.Database = parts[i+1]
		case 1:
			out.Collection = parts[i+1]
		case 2:
			out.Document = parts[i+1]
		}
	}
	if !valid {
		return Link{}, NewError(StatusBadRequest, "malformed resource link %q", link)
	}
	return out, nil
}

// ValidateName checks a resource id against the characters the store reserves.
func ValidateName(kind, name string) error {
	if name == "" {
		return NewError(StatusBadRequest, "%s id is empty", kind)
	}
	if len(name) > 255 {
		return NewError(StatusBadRequest, "%s id %q exceeds 255 characters", kind, name)
	}
	if strings.ContainsAny(name, `/\?#`) {
		return NewError(StatusBadRequest, "%s id %q contains a reserved character", kind, name)
	}
	return nil
}
