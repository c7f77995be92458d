package callback

import (
	"fmt"

	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/model"
)

// ID names an outstanding asynchronous continuation. The generator is a
// monotonic counter, main-context only.
type ID uint64

// ErrorFunc is the continuation shape for operations that only report
// success or failure: createObjectStore, deleteObjectStore,
// clearObjectStore, createIndex, deleteRecord, commitTransaction,
// abortTransaction.
type ErrorFunc func(idberr.Error)

// KeyFunc is the continuation shape for putOrAdd, which also reports the
// key that was actually used (relevant when the store auto-incremented
// it).
type KeyFunc func(idberr.Error, model.KeyData)

// GetResultFunc is the continuation shape for getRecord.
type GetResultFunc func(idberr.Error, model.GetResult)

// CountFunc is the continuation shape for getCount.
type CountFunc func(idberr.Error, uint64)

// Table is the family of four disjoint id -> continuation maps. A given
// id is inserted into exactly one of the four maps exactly once, and
// taken out of it exactly once.
type Table struct {
	nextID uint64

	errorCallbacks     map[ID]ErrorFunc
	keyCallbacks       map[ID]KeyFunc
	getResultCallbacks map[ID]GetResultFunc
	countCallbacks     map[ID]CountFunc
}

// NewTable returns an empty callback table.
func NewTable() *Table {
	return &Table{
		errorCallbacks:     make(map[ID]ErrorFunc),
		keyCallbacks:       make(map[ID]KeyFunc),
		getResultCallbacks: make(map[ID]GetResultFunc),
		countCallbacks:     make(map[ID]CountFunc),
	}
}

func (t *Table) nextCallbackID() ID {
	t.nextID++
	return ID(t.nextID)
}

// StoreError records an ErrorFunc continuation and returns its id.
func (t *Table) StoreError(fn ErrorFunc) ID {
	id := t.nextCallbackID()
	t.errorCallbacks[id] = fn
	return id
}

// StoreKey records a KeyFunc continuation and returns its id.
func (t *Table) StoreKey(fn KeyFunc) ID {
	id := t.nextCallbackID()
	t.keyCallbacks[id] = fn
	return id
}

// StoreGetResult records a GetResultFunc continuation and returns its id.
func (t *Table) StoreGetResult(fn GetResultFunc) ID {
	id := t.nextCallbackID()
	t.getResultCallbacks[id] = fn
	return id
}

// StoreCount records a CountFunc continuation and returns its id.
func (t *Table) StoreCount(fn CountFunc) ID {
	id := t.nextCallbackID()
	t.countCallbacks[id] = fn
	return id
}

// TakeError removes and invokes the ErrorFunc stored under id. Taking an
// id that isn't present in this table is always a programming error (the
// dispatcher replied to the wrong table, or replied twice) and panics,
// matching the error-handling design's "fatal conditions ... abort the
// process".
func (t *Table) TakeError(id ID, err idberr.Error) {
	fn, ok := t.errorCallbacks[id]
	if !ok {
		panic(fmt.Sprintf("callback: no error callback registered for id %d", id))
	}
	delete(t.errorCallbacks, id)
	fn(err)
}

// TakeKey removes and invokes the KeyFunc stored under id.
func (t *Table) TakeKey(id ID, err idberr.Error, key model.KeyData) {
	fn, ok := t.keyCallbacks[id]
	if !ok {
		panic(fmt.Sprintf("callback: no key callback registered for id %d", id))
	}
	delete(t.keyCallbacks, id)
	fn(err, key)
}

// TakeGetResult removes and invokes the GetResultFunc stored under id.
func (t *Table) TakeGetResult(id ID, err idberr.Error, result model.GetResult) {
	fn, ok := t.getResultCallbacks[id]
	if !ok {
		panic(fmt.Sprintf("callback: no get-result callback registered for id %d", id))
	}
	delete(t.getResultCallbacks, id)
	fn(err, result)
}

// TakeCount removes and invokes the CountFunc stored under id.
func (t *Table) TakeCount(id ID, err idberr.Error, count uint64) {
	fn, ok := t.countCallbacks[id]
	if !ok {
		panic(fmt.Sprintf("callback: no count callback registered for id %d", id))
	}
	delete(t.countCallbacks, id)
	fn(err, count)
}

// Pending returns the total number of outstanding continuations across
// all four tables, exposed for metrics and tests.
func (t *Table) Pending() int {
	return len(t.errorCallbacks) + len(t.keyCallbacks) + len(t.getResultCallbacks) + len(t.countCallbacks)
}
