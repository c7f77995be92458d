package backingstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/model"
	"github.com/cuemby/idbcoordinator/internal/txn"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta      = []byte("meta")
	metaKeySchema   = []byte("schema")
	metaAutoIncKey  = func(id model.ObjectStoreID) []byte { return []byte(fmt.Sprintf("autoinc:%d", id)) }
	storeBucketName = func(id model.ObjectStoreID) []byte { return []byte(fmt.Sprintf("store:%d", id)) }
	indexBucketName = func(storeID model.ObjectStoreID, indexID model.IndexID) []byte {
		return []byte(fmt.Sprintf("index:%d:%d", storeID, indexID))
	}
)

// indexEntry is the value stored under each composite key in an index
// bucket: enough to reconstruct both halves of the (index key, primary
// key) pair without re-parsing the composite key bytes.
type indexEntry struct {
	IndexKey   []byte
	PrimaryKey []byte
}

// indexDiffKey names one index's diff within a writeTxn.
type indexDiffKey struct {
	storeID model.ObjectStoreID
	indexID model.IndexID
}

// storeDiff buffers one object store's uncommitted data mutations
// within a single ReadWrite/VersionChange transaction. fresh marks
// that the bucket's persisted contents (if any) should be ignored
// entirely: set on CreateObjectStore (brand new bucket) and
// ClearObjectStore (old contents discarded), so only puts from this
// point on are visible.
type storeDiff struct {
	fresh bool
	puts  map[string][]byte
	dels  map[string]bool
}

func newStoreDiff() *storeDiff {
	return &storeDiff{puts: make(map[string][]byte), dels: make(map[string]bool)}
}

func (d *storeDiff) markFresh() {
	d.fresh = true
	d.puts = make(map[string][]byte)
	d.dels = make(map[string]bool)
}

func (d *storeDiff) put(key string, value []byte) {
	delete(d.dels, key)
	d.puts[key] = value
}

func (d *storeDiff) delete(key string) {
	delete(d.puts, key)
	d.dels[key] = true
}

// indexDiff is storeDiff's counterpart for one index bucket.
type indexDiff struct {
	fresh bool
	puts  map[string]indexEntry
	dels  map[string]bool
}

func newIndexDiff() *indexDiff {
	return &indexDiff{puts: make(map[string]indexEntry), dels: make(map[string]bool)}
}

func (d *indexDiff) markFresh() {
	d.fresh = true
	d.puts = make(map[string]indexEntry)
	d.dels = make(map[string]bool)
}

func (d *indexDiff) put(key string, entry indexEntry) {
	delete(d.dels, key)
	d.puts[key] = entry
}

func (d *indexDiff) delete(key string) {
	delete(d.puts, key)
	d.dels[key] = true
}

// writeTxn buffers everything a ReadWrite or VersionChange transaction
// does, entirely in memory, until CommitTransaction replays it against
// a single short-lived bbolt write transaction. No writable
// transaction ever holds a live *bolt.Tx for its lifetime: bbolt
// permits only one writable transaction at a time, and the scheduler
// legitimately runs two ReadWrite transactions with disjoint scopes
// concurrently, so holding one across the whole transaction lifetime
// would deadlock the single storage worker goroutine against itself
// the moment a second writer was scheduled.
type writeTxn struct {
	baseSchema *model.DatabaseInfo // snapshot at BeginTransaction; never mutated
	schema     *model.DatabaseInfo // working copy; schema ops mutate this

	stores  map[model.ObjectStoreID]*storeDiff
	indexes map[indexDiffKey]*indexDiff
	autoInc map[model.ObjectStoreID]uint64
}

func (w *writeTxn) storeDiffFor(id model.ObjectStoreID) *storeDiff {
	d, ok := w.stores[id]
	if !ok {
		d = newStoreDiff()
		w.stores[id] = d
	}
	return d
}

func (w *writeTxn) indexDiffFor(storeID model.ObjectStoreID, indexID model.IndexID) *indexDiff {
	key := indexDiffKey{storeID, indexID}
	d, ok := w.indexes[key]
	if !ok {
		d = newIndexDiff()
		w.indexes[key] = d
	}
	return d
}

// BoltStore is the production Store, one bbolt database file per
// coordinated database. It keeps one bucket per object store plus one
// bucket per index, and a meta bucket holding the serialized
// DatabaseInfo and per-store auto-increment counters.
type BoltStore struct {
	db *bolt.DB

	mu     sync.Mutex
	txs    map[txn.ID]*bolt.Tx  // read-only transactions: a live bbolt view
	writes map[txn.ID]*writeTxn // writable transactions: buffered, not yet live
}

// NewBoltStore opens (creating if absent) the BoltDB file for
// databaseName under dataDir.
func NewBoltStore(dataDir, databaseName string) (*BoltStore, error) {
	path := filepath.Join(dataDir, databaseName+".db")

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open backing store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize backing store: %w", err)
	}

	return &BoltStore{
		db:     db,
		txs:    make(map[txn.ID]*bolt.Tx),
		writes: make(map[txn.ID]*writeTxn),
	}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// resolve looks up id among both open read-only and writable
// transactions. Exactly one of w/ro is non-nil on success.
func (s *BoltStore) resolve(id txn.ID) (w *writeTxn, ro *bolt.Tx, derr idberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wt, ok := s.writes[id]; ok {
		return wt, nil, idberr.Nil
	}
	if t, ok := s.txs[id]; ok {
		return nil, t, idberr.Nil
	}
	return nil, nil, idberr.New(idberr.UnknownError, "backing store transaction %d is not open", id)
}

// writable is like resolve but rejects read-only transactions, for the
// operations only a ReadWrite/VersionChange transaction may perform.
func (s *BoltStore) writable(id txn.ID) (*writeTxn, idberr.Error) {
	w, ro, derr := s.resolve(id)
	if !derr.IsNull() {
		return nil, derr
	}
	if ro != nil {
		return nil, idberr.New(idberr.InvalidStateError, "transaction %d is read-only", id)
	}
	return w, idberr.Nil
}

func (s *BoltStore) readSchema() (*model.DatabaseInfo, error) {
	var info *model.DatabaseInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		schema, err := getSchema(b)
		info = schema
		return err
	})
	return info, err
}

// GetOrEstablishDatabaseInfo implements Store.
func (s *BoltStore) GetOrEstablishDatabaseInfo() (*model.DatabaseInfo, idberr.Error) {
	var info *model.DatabaseInfo
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		raw := b.Get(metaKeySchema)
		if raw == nil {
			info = model.NewDatabaseInfo(0)
			return putSchema(b, info)
		}
		info = &model.DatabaseInfo{}
		return json.Unmarshal(raw, info)
	})
	if err != nil {
		return nil, idberr.Wrap(idberr.UnknownError, err, "establish database info")
	}
	return info, idberr.Nil
}

func putSchema(b *bolt.Bucket, info *model.DatabaseInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return b.Put(metaKeySchema, raw)
}

func getSchema(b *bolt.Bucket) (*model.DatabaseInfo, error) {
	raw := b.Get(metaKeySchema)
	info := model.NewDatabaseInfo(0)
	if raw == nil {
		return info, nil
	}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, err
	}
	return info, nil
}

// BeginTransaction implements Store. Read-only transactions get a live
// bbolt view (bbolt permits any number of these concurrently,
// regardless of in-flight writers). Writable transactions get an
// in-memory buffer instead of a live bbolt write transaction; see
// writeTxn.
func (s *BoltStore) BeginTransaction(id txn.ID, writable bool) idberr.Error {
	if !writable {
		t, err := s.db.Begin(false)
		if err != nil {
			return idberr.Wrap(idberr.UnknownError, err, "begin transaction %d", id)
		}
		s.mu.Lock()
		s.txs[id] = t
		s.mu.Unlock()
		return idberr.Nil
	}

	schema, err := s.readSchema()
	if err != nil {
		return idberr.Wrap(idberr.UnknownError, err, "begin transaction %d", id)
	}
	w := &writeTxn{
		baseSchema: schema,
		schema:     schema.Clone(),
		stores:     make(map[model.ObjectStoreID]*storeDiff),
		indexes:    make(map[indexDiffKey]*indexDiff),
		autoInc:    make(map[model.ObjectStoreID]uint64),
	}
	s.mu.Lock()
	s.writes[id] = w
	s.mu.Unlock()
	return idberr.Nil
}

// CommitTransaction implements Store. For a writable transaction this
// is the only point at which a real bbolt write transaction is
// opened; it stays open only long enough to replay the buffered diff,
// so it never blocks a concurrent disjoint-scope writer for longer
// than that replay takes.
func (s *BoltStore) CommitTransaction(id txn.ID) idberr.Error {
	s.mu.Lock()
	w, isWrite := s.writes[id]
	if isWrite {
		delete(s.writes, id)
	}
	t, isRead := s.txs[id]
	if isRead {
		delete(s.txs, id)
	}
	s.mu.Unlock()

	switch {
	case isWrite:
		if err := s.db.Update(func(tx *bolt.Tx) error { return applyWriteTxn(tx, w) }); err != nil {
			return idberr.Wrap(idberr.UnknownError, err, "commit transaction %d", id)
		}
		return idberr.Nil
	case isRead:
		// bbolt cannot commit a read-only transaction; closing one is a
		// rollback.
		if err := t.Rollback(); err != nil {
			return idberr.Wrap(idberr.UnknownError, err, "commit transaction %d", id)
		}
		return idberr.Nil
	default:
		return idberr.New(idberr.UnknownError, "backing store transaction %d is not open", id)
	}
}

// AbortTransaction implements Store. Aborting a writable transaction
// is free: nothing it did ever touched bbolt, so discarding the
// buffer is enough.
func (s *BoltStore) AbortTransaction(id txn.ID) idberr.Error {
	s.mu.Lock()
	_, isWrite := s.writes[id]
	if isWrite {
		delete(s.writes, id)
	}
	t, isRead := s.txs[id]
	if isRead {
		delete(s.txs, id)
	}
	s.mu.Unlock()

	switch {
	case isWrite:
		return idberr.Nil
	case isRead:
		if err := t.Rollback(); err != nil {
			return idberr.Wrap(idberr.UnknownError, err, "abort transaction %d", id)
		}
		return idberr.Nil
	default:
		return idberr.New(idberr.UnknownError, "backing store transaction %d is not open", id)
	}
}

// applyWriteTxn replays a writable transaction's buffered diff against
// a live bbolt write transaction, by comparing w.baseSchema against
// w.schema to find created/deleted stores and indexes, then applying
// every buffered put/delete.
func applyWriteTxn(tx *bolt.Tx, w *writeTxn) error {
	for storeID, base := range w.baseSchema.ObjectStores {
		if _, stillExists := w.schema.ObjectStores[storeID]; stillExists {
			continue
		}
		if err := tx.DeleteBucket(storeBucketName(storeID)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		for indexID := range base.Indexes {
			if err := tx.DeleteBucket(indexBucketName(storeID, indexID)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}
	}

	for storeID, info := range w.schema.ObjectStores {
		_, existedBefore := w.baseSchema.ObjectStores[storeID]
		name := storeBucketName(storeID)

		d := w.stores[storeID]
		if !existedBefore {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		} else if d != nil && d.fresh {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		if d != nil {
			b := tx.Bucket(name)
			for k := range d.dels {
				if err := b.Delete([]byte(k)); err != nil {
					return err
				}
			}
			for k, v := range d.puts {
				if err := b.Put([]byte(k), v); err != nil {
					return err
				}
			}
		}

		for indexID := range info.Indexes {
			indexExistedBefore := false
			if base, ok := w.baseSchema.ObjectStores[storeID]; ok {
				_, indexExistedBefore = base.Indexes[indexID]
			}
			iname := indexBucketName(storeID, indexID)
			idx := w.indexes[indexDiffKey{storeID, indexID}]
			if !indexExistedBefore {
				if _, err := tx.CreateBucketIfNotExists(iname); err != nil {
					return err
				}
			} else if idx != nil && idx.fresh {
				if err := tx.DeleteBucket(iname); err != nil && err != bolt.ErrBucketNotFound {
					return err
				}
				if _, err := tx.CreateBucket(iname); err != nil {
					return err
				}
			}
			if idx != nil {
				ib := tx.Bucket(iname)
				for k := range idx.dels {
					if err := ib.Delete([]byte(k)); err != nil {
						return err
					}
				}
				for k, v := range idx.puts {
					raw, err := json.Marshal(v)
					if err != nil {
						return err
					}
					if err := ib.Put([]byte(k), raw); err != nil {
						return err
					}
				}
			}
		}
	}

	meta := tx.Bucket(bucketMeta)
	if err := putSchema(meta, w.schema); err != nil {
		return err
	}
	for storeID, next := range w.autoInc {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		if err := meta.Put(metaAutoIncKey(storeID), buf); err != nil {
			return err
		}
	}
	return nil
}

// CreateObjectStore implements Store.
func (s *BoltStore) CreateObjectStore(id txn.ID, info model.ObjectStoreInfo) idberr.Error {
	w, derr := s.writable(id)
	if !derr.IsNull() {
		return derr
	}
	w.schema.AddObjectStore(info)
	w.storeDiffFor(info.ID).markFresh()
	return idberr.Nil
}

// DeleteObjectStore implements Store.
func (s *BoltStore) DeleteObjectStore(id txn.ID, storeID model.ObjectStoreID, name string) idberr.Error {
	w, derr := s.writable(id)
	if !derr.IsNull() {
		return derr
	}
	w.schema.RemoveObjectStoreByName(name)
	delete(w.stores, storeID)
	for key := range w.indexes {
		if key.storeID == storeID {
			delete(w.indexes, key)
		}
	}
	return idberr.Nil
}

// ClearObjectStore implements Store.
func (s *BoltStore) ClearObjectStore(id txn.ID, storeID model.ObjectStoreID) idberr.Error {
	w, derr := s.writable(id)
	if !derr.IsNull() {
		return derr
	}
	store, ok := w.schema.ObjectStores[storeID]
	if !ok {
		return idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
	}
	w.storeDiffFor(storeID).markFresh()
	for indexID := range store.Indexes {
		w.indexDiffFor(storeID, indexID).markFresh()
	}
	return idberr.Nil
}

// CreateIndex implements Store.
func (s *BoltStore) CreateIndex(id txn.ID, storeID model.ObjectStoreID, info model.IndexInfo) idberr.Error {
	w, derr := s.writable(id)
	if !derr.IsNull() {
		return derr
	}
	if _, ok := w.schema.ObjectStores[storeID]; !ok {
		return idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
	}
	if !w.schema.AddIndex(storeID, info) {
		return idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
	}
	w.indexDiffFor(storeID, info.ID).markFresh()
	return idberr.Nil
}

// GenerateKeyNumber implements Store.
func (s *BoltStore) GenerateKeyNumber(id txn.ID, storeID model.ObjectStoreID) (float64, idberr.Error) {
	w, derr := s.writable(id)
	if !derr.IsNull() {
		return 0, derr
	}
	if _, ok := w.schema.ObjectStores[storeID]; !ok {
		return 0, idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
	}

	next, ok := w.autoInc[storeID]
	if !ok {
		var persisted uint64
		err := s.db.View(func(tx *bolt.Tx) error {
			meta := tx.Bucket(bucketMeta)
			if raw := meta.Get(metaAutoIncKey(storeID)); raw != nil {
				persisted = binary.BigEndian.Uint64(raw)
			}
			return nil
		})
		if err != nil {
			return 0, idberr.Wrap(idberr.UnknownError, err, "read auto-increment counter")
		}
		next = persisted
	}
	next++
	w.autoInc[storeID] = next
	return float64(next), idberr.Nil
}

// KeyExists implements Store.
func (s *BoltStore) KeyExists(id txn.ID, storeID model.ObjectStoreID, key model.KeyData) (bool, idberr.Error) {
	w, ro, derr := s.resolve(id)
	if !derr.IsNull() {
		return false, derr
	}
	if ro != nil {
		b := ro.Bucket(storeBucketName(storeID))
		if b == nil {
			return false, idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
		}
		return b.Get(key.Encoded) != nil, idberr.Nil
	}

	if _, ok := w.schema.ObjectStores[storeID]; !ok {
		return false, idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
	}
	d := w.stores[storeID]
	k := string(key.Encoded)
	if d != nil {
		if d.dels[k] {
			return false, idberr.Nil
		}
		if _, ok := d.puts[k]; ok {
			return true, idberr.Nil
		}
		if d.fresh {
			return false, idberr.Nil
		}
	}
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(storeBucketName(storeID)); b != nil {
			exists = b.Get(key.Encoded) != nil
		}
		return nil
	})
	if err != nil {
		return false, idberr.Wrap(idberr.UnknownError, err, "read object store")
	}
	return exists, idberr.Nil
}

// PutRecord implements Store.
func (s *BoltStore) PutRecord(id txn.ID, storeID model.ObjectStoreID, key model.KeyData, value []byte, indexes []model.IndexInfo) idberr.Error {
	w, derr := s.writable(id)
	if !derr.IsNull() {
		return derr
	}
	if _, ok := w.schema.ObjectStores[storeID]; !ok {
		return idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
	}

	w.storeDiffFor(storeID).put(string(key.Encoded), append([]byte(nil), value...))

	for _, idx := range indexes {
		indexKey, ok := extractIndexKey(value, idx.KeyPath)
		if !ok {
			continue
		}
		composite := string(append(append([]byte(nil), indexKey.Encoded...), key.Encoded...))
		w.indexDiffFor(storeID, idx.ID).put(composite, indexEntry{
			IndexKey:   append([]byte(nil), indexKey.Encoded...),
			PrimaryKey: append([]byte(nil), key.Encoded...),
		})
	}
	return idberr.Nil
}

// mergedStoreRecords resolves storeID's effective contents (persisted
// bucket layered under any buffered diff) as a sorted key slice plus a
// value lookup, ready to be filtered by a KeyRange.
func (s *BoltStore) mergedStoreRecords(storeID model.ObjectStoreID, d *storeDiff) ([]model.KeyData, map[string][]byte, error) {
	values := make(map[string][]byte)
	if d == nil || !d.fresh {
		err := s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(storeBucketName(storeID))
			if b == nil {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				values[string(k)] = append([]byte(nil), v...)
				return nil
			})
		})
		if err != nil {
			return nil, nil, err
		}
	}
	if d != nil {
		for k := range d.dels {
			delete(values, k)
		}
		for k, v := range d.puts {
			values[k] = v
		}
	}
	keys := make([]model.KeyData, 0, len(values))
	for k := range values {
		keys = append(keys, model.KeyData{Valid: true, Encoded: []byte(k)})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	return keys, values, nil
}

// mergedIndexEntries is mergedStoreRecords' counterpart for one index
// bucket, keyed by composite (index key, primary key) string.
func (s *BoltStore) mergedIndexEntries(storeID model.ObjectStoreID, indexID model.IndexID, d *indexDiff) (map[string]indexEntry, error) {
	entries := make(map[string]indexEntry)
	if d == nil || !d.fresh {
		err := s.db.View(func(tx *bolt.Tx) error {
			ib := tx.Bucket(indexBucketName(storeID, indexID))
			if ib == nil {
				return nil
			}
			return ib.ForEach(func(k, raw []byte) error {
				var e indexEntry
				if err := json.Unmarshal(raw, &e); err != nil {
					return err
				}
				entries[string(k)] = e
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}
	if d != nil {
		for k := range d.dels {
			delete(entries, k)
		}
		for k, v := range d.puts {
			entries[k] = v
		}
	}
	return entries, nil
}

// GetRecord implements Store.
func (s *BoltStore) GetRecord(id txn.ID, storeID model.ObjectStoreID, keyRange model.KeyRange) (model.GetResult, idberr.Error) {
	w, ro, derr := s.resolve(id)
	if !derr.IsNull() {
		return model.GetResult{}, derr
	}

	if ro != nil {
		b := ro.Bucket(storeBucketName(storeID))
		if b == nil {
			return model.GetResult{}, idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
		}
		c := b.Cursor()
		for k, v := seekCursor(c, keyRange); k != nil; k, v = c.Next() {
			kd := model.KeyData{Valid: true, Encoded: append([]byte(nil), k...)}
			if !keyRange.Contains(kd) {
				if keyRange.HasUpper && kd.Compare(keyRange.Upper) > 0 {
					break
				}
				continue
			}
			return model.GetResult{Found: true, Value: append([]byte(nil), v...), Key: kd}, idberr.Nil
		}
		return model.GetResult{Found: false}, idberr.Nil
	}

	if _, ok := w.schema.ObjectStores[storeID]; !ok {
		return model.GetResult{}, idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
	}
	keys, values, err := s.mergedStoreRecords(storeID, w.stores[storeID])
	if err != nil {
		return model.GetResult{}, idberr.Wrap(idberr.UnknownError, err, "read object store")
	}
	for _, kd := range keys {
		if keyRange.Contains(kd) {
			return model.GetResult{Found: true, Value: values[string(kd.Encoded)], Key: kd}, idberr.Nil
		}
	}
	return model.GetResult{Found: false}, idberr.Nil
}

// GetIndexRecord implements Store.
func (s *BoltStore) GetIndexRecord(id txn.ID, storeID model.ObjectStoreID, indexID model.IndexID, keyRange model.KeyRange, recordType model.IndexRecordType) (model.GetResult, idberr.Error) {
	w, ro, derr := s.resolve(id)
	if !derr.IsNull() {
		return model.GetResult{}, derr
	}

	var entries map[string]indexEntry
	if ro != nil {
		ib := ro.Bucket(indexBucketName(storeID, indexID))
		if ib == nil {
			return model.GetResult{}, idberr.New(idberr.InvalidStateError, "index %d does not exist", indexID)
		}
		entries = make(map[string]indexEntry)
		err := ib.ForEach(func(k, raw []byte) error {
			var e indexEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			entries[string(k)] = e
			return nil
		})
		if err != nil {
			return model.GetResult{}, idberr.Wrap(idberr.UnknownError, err, "scan index")
		}
	} else {
		store, ok := w.schema.ObjectStores[storeID]
		if !ok {
			return model.GetResult{}, idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
		}
		if _, ok := store.Indexes[indexID]; !ok {
			return model.GetResult{}, idberr.New(idberr.InvalidStateError, "index %d does not exist", indexID)
		}
		var err error
		entries, err = s.mergedIndexEntries(storeID, indexID, w.indexes[indexDiffKey{storeID, indexID}])
		if err != nil {
			return model.GetResult{}, idberr.Wrap(idberr.UnknownError, err, "scan index")
		}
	}

	composites := make([]string, 0, len(entries))
	for k := range entries {
		composites = append(composites, k)
	}
	sort.Strings(composites)

	var found *indexEntry
	for _, k := range composites {
		e := entries[k]
		if keyRange.Contains(model.KeyData{Valid: true, Encoded: e.IndexKey}) {
			found = &e
			break
		}
	}
	if found == nil {
		return model.GetResult{Found: false}, idberr.Nil
	}

	primary := model.KeyData{Valid: true, Encoded: found.PrimaryKey}
	result := model.GetResult{Found: true, Key: model.KeyData{Valid: true, Encoded: found.IndexKey}, PrimaryKey: primary}
	if recordType == model.IndexRecordTypeValue {
		value, _, derr := s.getStoreValue(id, storeID, found.PrimaryKey)
		if !derr.IsNull() {
			return model.GetResult{}, derr
		}
		result.Value = value
	}
	return result, idberr.Nil
}

// getStoreValue resolves a single primary key's current value within
// the caller's transaction, used by GetIndexRecord to dereference an
// index hit back to its object store record.
func (s *BoltStore) getStoreValue(id txn.ID, storeID model.ObjectStoreID, primaryKey []byte) ([]byte, bool, idberr.Error) {
	w, ro, derr := s.resolve(id)
	if !derr.IsNull() {
		return nil, false, derr
	}
	if ro != nil {
		b := ro.Bucket(storeBucketName(storeID))
		if b == nil {
			return nil, false, idberr.Nil
		}
		v := b.Get(primaryKey)
		return append([]byte(nil), v...), v != nil, idberr.Nil
	}
	_, values, err := s.mergedStoreRecords(storeID, w.stores[storeID])
	if err != nil {
		return nil, false, idberr.Wrap(idberr.UnknownError, err, "read object store")
	}
	v, ok := values[string(primaryKey)]
	return v, ok, idberr.Nil
}

// GetCount implements Store.
func (s *BoltStore) GetCount(id txn.ID, storeID model.ObjectStoreID, indexID model.IndexID, keyRange model.KeyRange) (int64, idberr.Error) {
	w, ro, derr := s.resolve(id)
	if !derr.IsNull() {
		return 0, derr
	}

	if ro != nil {
		if indexID == 0 {
			b := ro.Bucket(storeBucketName(storeID))
			if b == nil {
				return 0, idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
			}
			var count int64
			c := b.Cursor()
			for k, _ := seekCursor(c, keyRange); k != nil; k, _ = c.Next() {
				kd := model.KeyData{Valid: true, Encoded: append([]byte(nil), k...)}
				if keyRange.HasUpper && kd.Compare(keyRange.Upper) > 0 {
					break
				}
				if keyRange.Contains(kd) {
					count++
				}
			}
			return count, idberr.Nil
		}
		ib := ro.Bucket(indexBucketName(storeID, indexID))
		if ib == nil {
			return 0, idberr.New(idberr.InvalidStateError, "index %d does not exist", indexID)
		}
		var count int64
		err := ib.ForEach(func(_, raw []byte) error {
			var e indexEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			if keyRange.Contains(model.KeyData{Valid: true, Encoded: e.IndexKey}) {
				count++
			}
			return nil
		})
		if err != nil {
			return 0, idberr.Wrap(idberr.UnknownError, err, "scan index")
		}
		return count, idberr.Nil
	}

	if indexID == 0 {
		if _, ok := w.schema.ObjectStores[storeID]; !ok {
			return 0, idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
		}
		keys, _, err := s.mergedStoreRecords(storeID, w.stores[storeID])
		if err != nil {
			return 0, idberr.Wrap(idberr.UnknownError, err, "read object store")
		}
		var count int64
		for _, kd := range keys {
			if keyRange.Contains(kd) {
				count++
			}
		}
		return count, idberr.Nil
	}

	store, ok := w.schema.ObjectStores[storeID]
	if !ok {
		return 0, idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
	}
	if _, ok := store.Indexes[indexID]; !ok {
		return 0, idberr.New(idberr.InvalidStateError, "index %d does not exist", indexID)
	}
	entries, err := s.mergedIndexEntries(storeID, indexID, w.indexes[indexDiffKey{storeID, indexID}])
	if err != nil {
		return 0, idberr.Wrap(idberr.UnknownError, err, "scan index")
	}
	var count int64
	for _, e := range entries {
		if keyRange.Contains(model.KeyData{Valid: true, Encoded: e.IndexKey}) {
			count++
		}
	}
	return count, idberr.Nil
}

// DeleteRange implements Store.
func (s *BoltStore) DeleteRange(id txn.ID, storeID model.ObjectStoreID, keyRange model.KeyRange) idberr.Error {
	w, derr := s.writable(id)
	if !derr.IsNull() {
		return derr
	}
	store, ok := w.schema.ObjectStores[storeID]
	if !ok {
		return idberr.New(idberr.InvalidStateError, "object store %d does not exist", storeID)
	}

	keys, _, err := s.mergedStoreRecords(storeID, w.stores[storeID])
	if err != nil {
		return idberr.Wrap(idberr.UnknownError, err, "read object store")
	}
	doomed := make(map[string]bool)
	sd := w.storeDiffFor(storeID)
	for _, kd := range keys {
		if !keyRange.Contains(kd) {
			continue
		}
		k := string(kd.Encoded)
		doomed[k] = true
		sd.delete(k)
	}
	if len(doomed) == 0 {
		return idberr.Nil
	}

	for indexID := range store.Indexes {
		entries, err := s.mergedIndexEntries(storeID, indexID, w.indexes[indexDiffKey{storeID, indexID}])
		if err != nil {
			return idberr.Wrap(idberr.UnknownError, err, "scan index")
		}
		idxDiff := w.indexDiffFor(storeID, indexID)
		for composite, e := range entries {
			if doomed[string(e.PrimaryKey)] {
				idxDiff.delete(composite)
			}
		}
	}
	return idberr.Nil
}

// seekCursor positions c at the first key that could satisfy keyRange's
// lower bound, or at the first key overall if keyRange has no lower
// bound.
func seekCursor(c *bolt.Cursor, keyRange model.KeyRange) ([]byte, []byte) {
	if !keyRange.HasLower {
		return c.First()
	}
	k, v := c.Seek(keyRange.Lower.Encoded)
	if k != nil && keyRange.LowerOpen && string(k) == string(keyRange.Lower.Encoded) {
		return c.Next()
	}
	return k, v
}
