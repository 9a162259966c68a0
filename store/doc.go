// Package store defines the boundary between a repository and the remote
// document store: databases contain collections, collections contain JSON
// documents keyed by their "id" attribute, and every resource is addressed by
// a link of the form dbs/{db}/colls/{coll}/docs/{id}.
//
// Implementations live in sub-packages. memstore keeps everything in process
// and sqlstore persists documents through bun on sqlite, postgres or mysql.
package store
