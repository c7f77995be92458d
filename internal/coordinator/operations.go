package coordinator

import (
	"github.com/cuemby/idbcoordinator/internal/callback"
	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/model"
	"github.com/cuemby/idbcoordinator/internal/txn"
)

// requireActive resolves txID to an in-progress, Active transaction, or
// an InvalidStateError if it isn't one.
func (c *Coordinator) requireActive(txID txn.ID) (*txn.Transaction, idberr.Error) {
	t, ok := c.inProgressTransactions[txID]
	if !ok || t.State() != txn.Active {
		return nil, idberr.New(idberr.InvalidStateError, "transaction %d is not active", txID)
	}
	return t, idberr.Nil
}

// requireActiveWritable is requireActive plus the ReadWrite/VersionChange
// check every mutating operation needs.
func (c *Coordinator) requireActiveWritable(txID txn.ID) (*txn.Transaction, idberr.Error) {
	t, err := c.requireActive(txID)
	if !err.IsNull() {
		return nil, err
	}
	if !t.IsWriting() {
		return nil, idberr.New(idberr.InvalidStateError, "transaction %d is read-only", txID)
	}
	return t, idberr.Nil
}

func indexSlice(store model.ObjectStoreInfo) []model.IndexInfo {
	out := make([]model.IndexInfo, 0, len(store.Indexes))
	for _, idx := range store.Indexes {
		out = append(out, idx)
	}
	return out
}

// CreateObjectStore adds a new object store to the schema under txID.
// Any active ReadWrite or VersionChange transaction is accepted; the
// call is not limited to the version-change transaction.
func (c *Coordinator) CreateObjectStore(txID txn.ID, info model.ObjectStoreInfo, done callback.ErrorFunc) {
	c.postMain(func() {
		t, err := c.requireActiveWritable(txID)
		if !err.IsNull() {
			done(err)
			return
		}
		id := c.callbacks.StoreError(done)
		c.postStorageTask("createObjectStore", func() {
			serr := c.store.CreateObjectStore(t.ID, info)
			c.dispatcher.PostStorageReply(func() {
				if serr.IsNull() {
					c.info.AddObjectStore(info)
				} else {
					c.recordError(string(serr.Kind))
				}
				c.callbacks.TakeError(id, serr)
			})
		})
	})
}

// DeleteObjectStore removes the object store named name from the schema.
func (c *Coordinator) DeleteObjectStore(txID txn.ID, name string, done callback.ErrorFunc) {
	c.postMain(func() {
		t, err := c.requireActiveWritable(txID)
		if !err.IsNull() {
			done(err)
			return
		}
		store, ok := c.info.ObjectStoreByName(name)
		if !ok {
			done(idberr.New(idberr.InvalidStateError, "no object store named %q", name))
			return
		}
		id := c.callbacks.StoreError(done)
		c.postStorageTask("deleteObjectStore", func() {
			serr := c.store.DeleteObjectStore(t.ID, store.ID, name)
			c.dispatcher.PostStorageReply(func() {
				if serr.IsNull() {
					c.info.RemoveObjectStoreByName(name)
				} else {
					c.recordError(string(serr.Kind))
				}
				c.callbacks.TakeError(id, serr)
			})
		})
	})
}

// ClearObjectStore removes every record from storeID without deleting
// the store itself.
func (c *Coordinator) ClearObjectStore(txID txn.ID, storeID model.ObjectStoreID, done callback.ErrorFunc) {
	c.postMain(func() {
		t, err := c.requireActiveWritable(txID)
		if !err.IsNull() {
			done(err)
			return
		}
		if _, ok := c.info.ObjectStores[storeID]; !ok {
			done(idberr.New(idberr.InvalidStateError, "no object store with id %d", storeID))
			return
		}
		id := c.callbacks.StoreError(done)
		c.postStorageTask("clearObjectStore", func() {
			serr := c.store.ClearObjectStore(t.ID, storeID)
			c.dispatcher.PostStorageReply(func() {
				if !serr.IsNull() {
					c.recordError(string(serr.Kind))
				}
				c.callbacks.TakeError(id, serr)
			})
		})
	})
}

// CreateIndex adds a new index to an existing object store.
func (c *Coordinator) CreateIndex(txID txn.ID, storeID model.ObjectStoreID, info model.IndexInfo, done callback.ErrorFunc) {
	c.postMain(func() {
		t, err := c.requireActiveWritable(txID)
		if !err.IsNull() {
			done(err)
			return
		}
		if _, ok := c.info.ObjectStores[storeID]; !ok {
			done(idberr.New(idberr.InvalidStateError, "no object store with id %d", storeID))
			return
		}
		id := c.callbacks.StoreError(done)
		c.postStorageTask("createIndex", func() {
			serr := c.store.CreateIndex(t.ID, storeID, info)
			c.dispatcher.PostStorageReply(func() {
				if serr.IsNull() {
					c.info.AddIndex(storeID, info)
				} else {
					c.recordError(string(serr.Kind))
				}
				c.callbacks.TakeError(id, serr)
			})
		})
	})
}

// PutRecord implements putOrAdd: it resolves key (generating one from
// storeID's auto-increment counter if key is invalid and the store
// allows it), checks for a colliding key when mode is NoOverwrite,
// unconditionally clears any existing record and its index entries at
// the effective key, then writes the new record and its index entries.
// done is called with the effective key, also when the storage task
// fails; a failure found before the storage task is posted reports an
// empty key.
func (c *Coordinator) PutRecord(txID txn.ID, storeID model.ObjectStoreID, key model.KeyData, value []byte, mode OverwriteMode, done callback.KeyFunc) {
	c.postMain(func() {
		t, err := c.requireActiveWritable(txID)
		if !err.IsNull() {
			done(err, model.KeyData{})
			return
		}
		store, ok := c.info.ObjectStores[storeID]
		if !ok {
			done(idberr.New(idberr.InvalidStateError, "no object store with id %d", storeID), model.KeyData{})
			return
		}
		indexes := indexSlice(store)

		id := c.callbacks.StoreKey(done)
		c.postStorageTask("putRecord", func() {
			effectiveKey := key
			var serr idberr.Error

			if !effectiveKey.Valid {
				if !store.AutoIncrement {
					serr = idberr.New(idberr.ConstraintError, "object store %d has no key and no key path was supplied", storeID)
				} else {
					var n float64
					n, serr = c.store.GenerateKeyNumber(t.ID, storeID)
					if serr.IsNull() {
						effectiveKey = model.NewNumberKey(n)
					}
				}
			}

			if serr.IsNull() && mode == NoOverwrite {
				var exists bool
				exists, serr = c.store.KeyExists(t.ID, storeID, effectiveKey)
				if serr.IsNull() && exists {
					serr = idberr.New(idberr.ConstraintError, "key already exists in object store %d", storeID)
				}
			}

			if serr.IsNull() {
				serr = c.store.DeleteRange(t.ID, storeID, model.ExactKeyRange(effectiveKey))
			}
			if serr.IsNull() {
				serr = c.store.PutRecord(t.ID, storeID, effectiveKey, value, indexes)
			}

			c.dispatcher.PostStorageReply(func() {
				if !serr.IsNull() {
					c.recordError(string(serr.Kind))
				}
				c.callbacks.TakeKey(id, serr, effectiveKey)
			})
		})
	})
}

// GetRecord looks up the record in storeID matching keyRange.
func (c *Coordinator) GetRecord(txID txn.ID, storeID model.ObjectStoreID, keyRange model.KeyRange, done callback.GetResultFunc) {
	c.postMain(func() {
		t, err := c.requireActive(txID)
		if !err.IsNull() {
			done(err, model.GetResult{})
			return
		}
		if _, ok := c.info.ObjectStores[storeID]; !ok {
			done(idberr.New(idberr.InvalidStateError, "no object store with id %d", storeID), model.GetResult{})
			return
		}
		id := c.callbacks.StoreGetResult(done)
		c.postStorageTask("getRecord", func() {
			result, serr := c.store.GetRecord(t.ID, storeID, keyRange)
			c.dispatcher.PostStorageReply(func() {
				if !serr.IsNull() {
					c.recordError(string(serr.Kind))
				}
				c.callbacks.TakeGetResult(id, serr, result)
			})
		})
	})
}

// GetIndexRecord looks up a record through indexID, returning either the
// index's own key or the referenced object store record depending on
// recordType.
func (c *Coordinator) GetIndexRecord(txID txn.ID, storeID model.ObjectStoreID, indexID model.IndexID, keyRange model.KeyRange, recordType model.IndexRecordType, done callback.GetResultFunc) {
	c.postMain(func() {
		t, err := c.requireActive(txID)
		if !err.IsNull() {
			done(err, model.GetResult{})
			return
		}
		store, ok := c.info.ObjectStores[storeID]
		if !ok {
			done(idberr.New(idberr.InvalidStateError, "no object store with id %d", storeID), model.GetResult{})
			return
		}
		if _, ok := store.Indexes[indexID]; !ok {
			done(idberr.New(idberr.InvalidStateError, "no index with id %d on object store %d", indexID, storeID), model.GetResult{})
			return
		}
		id := c.callbacks.StoreGetResult(done)
		c.postStorageTask("getIndexRecord", func() {
			result, serr := c.store.GetIndexRecord(t.ID, storeID, indexID, keyRange, recordType)
			c.dispatcher.PostStorageReply(func() {
				if !serr.IsNull() {
					c.recordError(string(serr.Kind))
				}
				c.callbacks.TakeGetResult(id, serr, result)
			})
		})
	})
}

// GetCount reports how many records in storeID (or, if indexID is
// nonzero, in that index) fall within keyRange.
func (c *Coordinator) GetCount(txID txn.ID, storeID model.ObjectStoreID, indexID model.IndexID, keyRange model.KeyRange, done callback.CountFunc) {
	c.postMain(func() {
		t, err := c.requireActive(txID)
		if !err.IsNull() {
			done(err, 0)
			return
		}
		if _, ok := c.info.ObjectStores[storeID]; !ok {
			done(idberr.New(idberr.InvalidStateError, "no object store with id %d", storeID), 0)
			return
		}
		id := c.callbacks.StoreCount(done)
		c.postStorageTask("getCount", func() {
			n, serr := c.store.GetCount(t.ID, storeID, indexID, keyRange)
			c.dispatcher.PostStorageReply(func() {
				if !serr.IsNull() {
					c.recordError(string(serr.Kind))
					c.callbacks.TakeCount(id, serr, 0)
					return
				}
				c.callbacks.TakeCount(id, serr, uint64(n))
			})
		})
	})
}

// DeleteRecord removes every record in storeID within keyRange (a
// single-key ExactKeyRange for a point delete).
func (c *Coordinator) DeleteRecord(txID txn.ID, storeID model.ObjectStoreID, keyRange model.KeyRange, done callback.ErrorFunc) {
	c.postMain(func() {
		t, err := c.requireActiveWritable(txID)
		if !err.IsNull() {
			done(err)
			return
		}
		if _, ok := c.info.ObjectStores[storeID]; !ok {
			done(idberr.New(idberr.InvalidStateError, "no object store with id %d", storeID))
			return
		}
		id := c.callbacks.StoreError(done)
		c.postStorageTask("deleteRecord", func() {
			serr := c.store.DeleteRange(t.ID, storeID, keyRange)
			c.dispatcher.PostStorageReply(func() {
				if !serr.IsNull() {
					c.recordError(string(serr.Kind))
				}
				c.callbacks.TakeError(id, serr)
			})
		})
	})
}

// CommitTransaction durably applies txID and retires it. On a
// VersionChange transaction this finalizes the schema changes already
// reflected in c.info; on abort (see AbortTransaction) they're rolled
// back instead.
func (c *Coordinator) CommitTransaction(txID txn.ID, done callback.ErrorFunc) {
	c.postMain(func() {
		t, ok := c.inProgressTransactions[txID]
		if !ok {
			done(idberr.New(idberr.InvalidStateError, "transaction %d is not in progress", txID))
			return
		}
		t.SetState(txn.Committing)
		id := c.callbacks.StoreError(done)
		c.postStorageTask("commitTransaction", func() {
			serr := c.store.CommitTransaction(t.ID)
			c.dispatcher.PostStorageReply(func() {
				t.SetState(txn.Completed)
				if serr.IsNull() {
					if t.IsVersionChange() {
						c.info.Version = t.NewVersion
					}
				} else {
					c.recordError(string(serr.Kind))
					t.Err = serr
				}
				if t.IsVersionChange() {
					c.versionChangeConnection = nil
				}
				c.inProgressTransactionCompleted(t.ID)
				c.callbacks.TakeError(id, serr)
			})
		})
	})
}

// AbortTransaction discards everything done under txID. If txID is the
// database's version-change transaction, the cached schema is restored
// from the snapshot taken when the transaction started, undoing any
// createObjectStore/deleteObjectStore/createIndex calls it made.
func (c *Coordinator) AbortTransaction(txID txn.ID, done callback.ErrorFunc) {
	c.postMain(func() {
		t, ok := c.inProgressTransactions[txID]
		if !ok {
			done(idberr.New(idberr.InvalidStateError, "transaction %d is not in progress", txID))
			return
		}
		t.SetState(txn.Aborting)
		if t.IsVersionChange() {
			if t.OriginalInfo != nil {
				c.info = t.OriginalInfo
			}
			c.versionChangeConnection = nil
		}
		id := c.callbacks.StoreError(done)
		c.postStorageTask("abortTransaction", func() {
			serr := c.store.AbortTransaction(t.ID)
			c.dispatcher.PostStorageReply(func() {
				t.SetState(txn.Completed)
				if !serr.IsNull() {
					c.recordError(string(serr.Kind))
					t.Err = serr
				}
				c.inProgressTransactionCompleted(t.ID)
				c.callbacks.TakeError(id, serr)
			})
		})
	})
}
