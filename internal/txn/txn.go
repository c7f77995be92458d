package txn

import (
	"sync/atomic"

	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/model"
)

// Mode is the transaction isolation mode requested at creation time.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	VersionChange
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	case VersionChange:
		return "versionchange"
	default:
		return "unknown"
	}
}

// State is a transaction's position in its lifecycle.
type State int

const (
	// Pending transactions sit in the coordinator's pending queue,
	// waiting to be chosen by the scheduler.
	Pending State = iota
	// Active transactions have been chosen by the scheduler and may
	// accept and run operations. A transaction becomes Active the
	// instant it's scheduled, not once the backing store confirms its
	// BeginTransaction call: the storage worker is a single FIFO
	// goroutine, so any operation posted against an Active transaction
	// is guaranteed to run after that transaction's own begin.
	Active
	// Committing transactions have requested commit and are waiting
	// on the storage context to durably apply it.
	Committing
	// Aborting transactions have requested (or been forced into) abort
	// and are waiting on the storage context to roll back.
	Aborting
	// Completed transactions have finished, successfully or not, and
	// hold no further scheduling claim.
	Completed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Aborting:
		return "aborting"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// ID identifies a transaction uniquely within the coordinator's process
// lifetime.
type ID uint64

var nextID uint64

// NewID returns the next transaction identifier. Safe for concurrent use.
func NewID() ID {
	return ID(atomic.AddUint64(&nextID, 1))
}

// Transaction is one client-requested unit of work against a database's
// object stores. Closing the DatabaseConnection that created it does
// not abort it: the connection is kept close-pending until every
// transaction it owns has completed.
type Transaction struct {
	ID         ID
	Mode       Mode
	Scope      []model.ObjectStoreID
	Connection *DatabaseConnection

	state State

	// NewVersion and OriginalInfo are populated only for
	// VersionChange transactions: NewVersion is the version the
	// connection is upgrading to, OriginalInfo is the schema snapshot
	// taken before any upgrade mutation, restored verbatim on abort.
	NewVersion   uint64
	OriginalInfo *model.DatabaseInfo

	// Err is set once the transaction completes with failure.
	Err idberr.Error
}

// New constructs a Pending transaction. For VersionChange transactions
// the caller sets NewVersion and OriginalInfo, the latter a snapshot
// taken before the transaction runs any schema-mutating operation.
func New(conn *DatabaseConnection, mode Mode, scope []model.ObjectStoreID) *Transaction {
	t := &Transaction{
		ID:         NewID(),
		Mode:       mode,
		Scope:      scope,
		Connection: conn,
		state:      Pending,
	}
	conn.addTransaction(t)
	return t
}

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State {
	return t.state
}

// SetState transitions the transaction to s. It does not validate that
// the transition is legal; the scheduler and operation handlers are
// responsible for only making legal transitions.
func (t *Transaction) SetState(s State) {
	t.state = s
}

// IsWriting reports whether the transaction can mutate object store
// data, i.e. it is not ReadOnly.
func (t *Transaction) IsWriting() bool {
	return t.Mode != ReadOnly
}

// IsVersionChange reports whether the transaction is the distinguished
// VersionChange transaction of its connection's open request.
func (t *Transaction) IsVersionChange() bool {
	return t.Mode == VersionChange
}

// Finished reports whether the transaction has reached a terminal state.
func (t *Transaction) Finished() bool {
	return t.state == Completed
}

// ConnectionID identifies a DatabaseConnection uniquely within the
// coordinator's process lifetime.
type ConnectionID uint64

var nextConnectionID uint64

// NewConnectionID returns the next connection identifier.
func NewConnectionID() ConnectionID {
	return ConnectionID(atomic.AddUint64(&nextConnectionID, 1))
}

// DatabaseConnection is one client's open handle onto a database. It
// tracks the transactions it has started that have not yet completed,
// and whether the client has requested to close it.
type DatabaseConnection struct {
	ID ConnectionID

	transactions map[ID]*Transaction
	closePending bool
}

// NewDatabaseConnection constructs an open DatabaseConnection.
func NewDatabaseConnection() *DatabaseConnection {
	return &DatabaseConnection{
		ID:           NewConnectionID(),
		transactions: make(map[ID]*Transaction),
	}
}

func (c *DatabaseConnection) addTransaction(t *Transaction) {
	c.transactions[t.ID] = t
}

// RemoveTransaction drops the completed transaction id from the
// connection's live set. It is a no-op if the id is not tracked.
func (c *DatabaseConnection) RemoveTransaction(id ID) {
	delete(c.transactions, id)
}

// HasActiveTransactions reports whether the connection still owns any
// transaction that has not completed.
func (c *DatabaseConnection) HasActiveTransactions() bool {
	return len(c.transactions) > 0
}

// Transactions returns the connection's currently owned transactions.
// The returned slice is a snapshot; mutating it does not affect the
// connection.
func (c *DatabaseConnection) Transactions() []*Transaction {
	out := make([]*Transaction, 0, len(c.transactions))
	for _, t := range c.transactions {
		out = append(out, t)
	}
	return out
}

// SetClosePending marks that the client has requested the connection be
// closed. The connection is not actually removed from the coordinator's
// registry until its last transaction completes.
func (c *DatabaseConnection) SetClosePending() {
	c.closePending = true
}

// ClosePending reports whether the client has requested this connection
// be closed.
func (c *DatabaseConnection) ClosePending() bool {
	return c.closePending
}
