// Package backingstore defines the synchronous storage interface the
// coordinator's storage context drives, and a BoltDB-backed
// implementation of it.
//
// Every method here is called from the storage context only and is
// expected to block; none of it is safe to call from the main context.
// A Store owns exactly one database's on-disk state and exposes it
// through methods keyed by the transaction that is permitted to see
// the mutation, mirroring IDBDatabaseBackend's synchronous SQLite calls
// in the original implementation this coordinator is modeled on.
package backingstore
