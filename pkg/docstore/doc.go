// Package docstore stores schemaless JSON documents grouped in collections.
//
// Every collection (users, customers, invoices, posts, events,
// calendar-events, boards, settings) has the same shape: get by id, list,
// search by a top-level field, create, patch, delete and subscribe to
// changes. Documents carry a version that increases on every write; Put
// performs a compare-and-swap on it and fails with ErrConflict when another
// writer got there first.
//
// SQLStore keeps documents in the documents table (jsonb on PostgreSQL,
// TEXT with json_extract on SQLite). MemoryStore is a process-local
// implementation with the same semantics.
//
// Collection binds a store to a realtime hub so each write publishes a
// created, updated or deleted event on topic "collection:{name}".
package docstore
