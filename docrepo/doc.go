// Package docrepo provides a generic, typed repository over a document store.
//
// A DocumentRepository[T] is bound at construction to one database, one
// collection and one identity field of T. The database and collection are
// provisioned lazily on first use and reused until RemoveCollection discards
// them.
//
// Basic usage:
//
//	client := memstore.New()
//	people, err := docrepo.New[Person](client, "People",
//		docrepo.WithCollectionNaming(entity.PluralSnakeCase),
//	)
//	if err != nil {
//		return err
//	}
//
//	jack, err := people.AddOrUpdate(ctx, Person{FirstName: "Jack", LastName: "Smith"})
//	smiths, err := people.Where(ctx, query.Eq("lastName", "Smith"))
//	for p, err := range smiths {
//		...
//	}
//
// Filters are validated against the shape of T before any call reaches the
// store. Absent documents are reported as (zero, false, nil) and never as an
// error.
package docrepo
