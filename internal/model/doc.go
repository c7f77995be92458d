// Package model holds the cached schema types shared between the
// coordinator's main context and its backing store: DatabaseInfo,
// ObjectStoreInfo, and IndexInfo.
//
// Values in this package are plain data. The coordinator is the only
// caller permitted to mutate a live DatabaseInfo; everywhere else it is
// passed and stored as an immutable snapshot (see DatabaseInfo.Clone).
package model
