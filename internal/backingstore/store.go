package backingstore

import (
	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/model"
	"github.com/cuemby/idbcoordinator/internal/txn"
)

// Store is the set of synchronous operations the storage context
// performs against a single database's durable state. Every method
// that names a txn.ID requires a prior successful BeginTransaction for
// that id and is undefined if called after CommitTransaction or
// AbortTransaction for the same id.
type Store interface {
	// GetOrEstablishDatabaseInfo returns the database's current schema,
	// creating an empty one at version 0 the first time the database
	// is opened.
	GetOrEstablishDatabaseInfo() (*model.DatabaseInfo, idberr.Error)

	// BeginTransaction opens the durable transaction backing id.
	// Writable must be true for ReadWrite and VersionChange
	// transactions.
	BeginTransaction(id txn.ID, writable bool) idberr.Error
	// CommitTransaction durably applies everything done under id.
	CommitTransaction(id txn.ID) idberr.Error
	// AbortTransaction discards everything done under id.
	AbortTransaction(id txn.ID) idberr.Error

	CreateObjectStore(id txn.ID, info model.ObjectStoreInfo) idberr.Error
	DeleteObjectStore(id txn.ID, storeID model.ObjectStoreID, name string) idberr.Error
	ClearObjectStore(id txn.ID, storeID model.ObjectStoreID) idberr.Error
	CreateIndex(id txn.ID, storeID model.ObjectStoreID, info model.IndexInfo) idberr.Error

	// GenerateKeyNumber returns the next auto-increment key for
	// storeID and advances the counter within id; the advance is
	// persisted when id commits and discarded if it aborts.
	GenerateKeyNumber(id txn.ID, storeID model.ObjectStoreID) (float64, idberr.Error)
	// KeyExists reports whether storeID already has a record at key.
	KeyExists(id txn.ID, storeID model.ObjectStoreID, key model.KeyData) (bool, idberr.Error)
	// PutRecord writes value at key in storeID, maintaining every
	// index in indexes whose key path resolves against value.
	PutRecord(id txn.ID, storeID model.ObjectStoreID, key model.KeyData, value []byte, indexes []model.IndexInfo) idberr.Error

	GetRecord(id txn.ID, storeID model.ObjectStoreID, keyRange model.KeyRange) (model.GetResult, idberr.Error)
	GetIndexRecord(id txn.ID, storeID model.ObjectStoreID, indexID model.IndexID, keyRange model.KeyRange, recordType model.IndexRecordType) (model.GetResult, idberr.Error)
	GetCount(id txn.ID, storeID model.ObjectStoreID, indexID model.IndexID, keyRange model.KeyRange) (int64, idberr.Error)
	// DeleteRange removes every record (and index entry derived from
	// it) in storeID whose key falls within keyRange.
	DeleteRange(id txn.ID, storeID model.ObjectStoreID, keyRange model.KeyRange) idberr.Error

	Close() error
}
