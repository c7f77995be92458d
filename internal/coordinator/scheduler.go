package coordinator

import (
	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/metrics"
	"github.com/cuemby/idbcoordinator/internal/model"
	"github.com/cuemby/idbcoordinator/internal/scopeset"
	"github.com/cuemby/idbcoordinator/internal/txn"
)

// CreateTransaction enqueues a new ReadOnly or ReadWrite transaction on
// conn, scoped to scope, and wakes the scheduler. It blocks the caller
// only long enough for the request to be validated and queued on the
// main context, not until the transaction actually starts running.
func (c *Coordinator) CreateTransaction(connID txn.ConnectionID, mode txn.Mode, scope []model.ObjectStoreID) (txn.ID, idberr.Error) {
	type result struct {
		id  txn.ID
		err idberr.Error
	}
	reply := make(chan result, 1)

	c.postMain(func() {
		if mode == txn.VersionChange {
			reply <- result{err: idberr.New(idberr.InvalidStateError, "version-change transactions cannot be created through CreateTransaction")}
			return
		}
		conn, ok := c.openConnections[connID]
		if !ok || conn.ClosePending() {
			reply <- result{err: idberr.New(idberr.InvalidStateError, "connection %d is not open", connID)}
			return
		}

		t := txn.New(conn, mode, scope)
		c.pendingTransactions = append(c.pendingTransactions, t)
		metrics.PendingTransactions.Set(float64(len(c.pendingTransactions)))
		c.invokeScheduler()

		reply <- result{id: t.ID}
	})

	r := <-reply
	return r.id, r.err
}

// invokeScheduler arms the scheduler timer to tick as soon as the main
// context is free, coalescing any ticks already pending.
func (c *Coordinator) invokeScheduler() {
	c.schedulerTimer.StartOneShot(0)
}

// schedulerTick is the scheduler's single entry point, run on the main
// context. It first services open requests that were held back while a
// version-change connection was claimed, once that claim is released.
// If no transaction is pending, no connection is open, and a
// version-change operation is waiting for every connection to close,
// it starts that transaction. Otherwise it takes at most one runnable transaction off
// the pending queue and begins it in the backing store, re-arming
// itself immediately if the scan didn't have to defer anything (there
// may be more runnable work behind it).
func (c *Coordinator) schedulerTick() {
	metrics.SchedulerTicksTotal.Inc()

	for c.info != nil && c.versionChangeConnection == nil && len(c.pendingOpenRequests) > 0 {
		c.handleOpenRequests()
	}

	if len(c.pendingTransactions) == 0 && len(c.openConnections) == 0 && c.versionChangeOperation != nil {
		c.startVersionChangeTransaction()
		return
	}

	var hadDeferred bool
	t := c.takeNextRunnableTransaction(&hadDeferred)
	metrics.PendingTransactions.Set(float64(len(c.pendingTransactions)))
	if t == nil {
		return
	}

	c.scopes.Add(t.Scope)
	c.inProgressTransactions[t.ID] = t
	metrics.InProgressTransactions.WithLabelValues(t.Mode.String()).Inc()

	// t is Active as soon as it's scheduled, not once BeginTransaction's
	// reply arrives: the storage worker is a single FIFO goroutine, so
	// every operation this transaction posts is guaranteed to run after
	// this beginTransaction task regardless of when the reply lands.
	t.SetState(txn.Active)

	c.postStorageTask("beginTransaction", func() {
		err := c.store.BeginTransaction(t.ID, t.IsWriting())
		c.dispatcher.PostStorageReply(func() {
			if !err.IsNull() {
				c.log.Error().Str("kind", string(err.Kind)).Msg("failed to begin transaction")
			}
		})
	})

	if !hadDeferred {
		c.invokeScheduler()
	}
}

// takeNextRunnableTransaction scans pendingTransactions from the head.
// A ReadWrite transaction whose scope overlaps a store already in use
// by an in-progress transaction is deferred. A ReadOnly transaction is
// deferred too if its scope overlaps a ReadWrite transaction already
// sitting in this scan's deferred queue — otherwise it would run ahead
// of a writer it was originally queued behind and observe stale data.
// VersionChange transactions never reach the pending queue; seeing one
// here is a scheduling bug. Every transaction this scan defers is
// re-prepended onto pendingTransactions in its original relative
// order before returning, so later ticks see them first again.
func (c *Coordinator) takeNextRunnableTransaction(hadDeferred *bool) *txn.Transaction {
	var deferred []*txn.Transaction
	var chosen *txn.Transaction

	for len(c.pendingTransactions) > 0 {
		t := c.pendingTransactions[0]
		c.pendingTransactions = c.pendingTransactions[1:]

		switch t.Mode {
		case txn.VersionChange:
			panic("coordinator: version-change transaction found in pendingTransactions")
		case txn.ReadWrite:
			if c.scopes.Overlaps(t.Scope) {
				deferred = append(deferred, t)
				continue
			}
		default: // txn.ReadOnly
			if blockedByDeferredWriter(deferred, t.Scope) {
				deferred = append(deferred, t)
				continue
			}
		}

		chosen = t
		break
	}

	*hadDeferred = len(deferred) > 0
	if len(deferred) > 0 {
		c.pendingTransactions = append(deferred, c.pendingTransactions...)
	}
	return chosen
}

// blockedByDeferredWriter reports whether scope overlaps any ReadWrite
// transaction already sitting in this scan's deferred queue.
func blockedByDeferredWriter(deferred []*txn.Transaction, scope []model.ObjectStoreID) bool {
	for _, t := range deferred {
		if t.Mode == txn.ReadWrite && scopeset.OverlapsScope(t.Scope, scope) {
			return true
		}
	}
	return false
}

// inProgressTransactionCompleted retires a finished transaction: it
// leaves inProgressTransactions, releases its scope (version-change
// transactions never held one, since startVersionChangeTransaction
// bypasses the scope counters entirely), drops it from its connection,
// promotes a close-pending connection to fully closed if this was its
// last transaction, and wakes the scheduler so anything it was
// blocking can run.
func (c *Coordinator) inProgressTransactionCompleted(id txn.ID) {
	t, ok := c.inProgressTransactions[id]
	if !ok {
		return
	}
	delete(c.inProgressTransactions, id)
	metrics.InProgressTransactions.WithLabelValues(t.Mode.String()).Dec()

	if t.IsVersionChange() {
		c.versionChangeTransaction = nil
	} else {
		c.scopes.Remove(t.Scope)
	}

	if conn := t.Connection; conn != nil {
		conn.RemoveTransaction(t.ID)
		if conn.ClosePending() && !conn.HasActiveTransactions() {
			c.closeConnectionFromClient(conn.ID)
			return
		}
	}

	c.invokeScheduler()
}
