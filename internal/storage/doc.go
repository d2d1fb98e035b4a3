// Package storage persists the stamp collection and the named postage rates.
//
// Three backends implement Storage: an in-memory map store, a SQLite database
// whose schema is managed by embedded migrations, and a single-file BoltDB store.
package storage
