// Package query defines the predicates a repository can push to the document store.
//
// Predicates form a small closed set of filter expressions:
//
//   - Comparison: equality, inequality, ordering and case-insensitive string equality
//   - Truth: boolean attribute tests
//   - Not, And, Or: composition
//   - Any: "some element of a nested sequence matches"
//
// Attribute paths use the serialized attribute names (the json names), joined
// with dots for nested objects:
//
//	f := query.AllOf(
//		query.Eq("lastName", "Smith"),
//		query.Contains("phoneNumbers", query.Eq("type", "Mobile")),
//	)
//
// Compile validates a filter against a Schema and normalizes comparison values
// before anything is sent to the store, so an unsupported shape fails with
// ErrUnsupportedPredicate instead of silently returning wrong results. Match
// evaluates a compiled filter against a decoded JSON document and Render
// translates it to the store's SQL-like query text.
package query
