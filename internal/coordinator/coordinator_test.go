package coordinator_test

import (
	"testing"
	"time"

	"github.com/cuemby/idbcoordinator/internal/backingstore"
	"github.com/cuemby/idbcoordinator/internal/coordinator"
	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/model"
	"github.com/cuemby/idbcoordinator/internal/txn"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// fakeClient is a ClientConnection that hands callback results to the
// test goroutine over buffered channels.
type fakeClient struct {
	opened        chan coordinator.ResultData
	versionChange chan uint64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		opened:        make(chan coordinator.ResultData, 8),
		versionChange: make(chan uint64, 8),
	}
}

func (f *fakeClient) DidOpenDatabase(_ coordinator.RequestIdentifier, result coordinator.ResultData) {
	f.opened <- result
}

func (f *fakeClient) FireVersionChangeEvent(requestedVersion uint64) {
	f.versionChange <- requestedVersion
}

func (f *fakeClient) requireOpened(t *testing.T) coordinator.ResultData {
	t.Helper()
	select {
	case r := <-f.opened:
		return r
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for DidOpenDatabase")
		return coordinator.ResultData{}
	}
}

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	store, err := backingstore.NewBoltStore(t.TempDir(), "widgets")
	require.NoError(t, err)
	c := coordinator.New(coordinator.DatabaseIdentifier("widgets"), store)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitErr(t *testing.T, ch chan idberr.Error) idberr.Error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for error callback")
		return idberr.Nil
	}
}

// openAndUpgrade drives a never-before-opened database through its
// first connection, which always comes back as ResultUpgradeNeeded
// (version 0 -> 1), creates every supplied object store under the
// resulting version-change transaction, and commits it.
func openAndUpgrade(t *testing.T, c *coordinator.Coordinator, stores ...model.ObjectStoreInfo) (*fakeClient, *txn.DatabaseConnection) {
	t.Helper()

	client := newFakeClient()
	c.OpenDatabaseConnection(client, 0)

	result := client.requireOpened(t)
	require.Equal(t, coordinator.ResultUpgradeNeeded, result.Kind)
	require.NotNil(t, result.Transaction)
	require.NotNil(t, result.Connection)

	for _, info := range stores {
		errCh := make(chan idberr.Error, 1)
		c.CreateObjectStore(result.Transaction.ID, info, func(err idberr.Error) { errCh <- err })
		require.True(t, waitErr(t, errCh).IsNull())
	}

	commitCh := make(chan idberr.Error, 1)
	c.CommitTransaction(result.Transaction.ID, func(err idberr.Error) { commitCh <- err })
	require.True(t, waitErr(t, commitCh).IsNull())

	return client, result.Connection
}

func TestOpenFreshDatabaseRequiresUpgrade(t *testing.T) {
	c := newTestCoordinator(t)
	client := newFakeClient()

	c.OpenDatabaseConnection(client, 0)
	result := client.requireOpened(t)

	require.Equal(t, coordinator.ResultUpgradeNeeded, result.Kind)
	require.Equal(t, uint64(1), result.Transaction.NewVersion)
}

func TestRequestingALowerVersionFails(t *testing.T) {
	c := newTestCoordinator(t)
	_, conn := openAndUpgrade(t, c, model.NewObjectStoreInfo(1, "widgets", nil, true))

	// Upgrade again, explicitly, to version 2 with no other connections
	// open so it starts immediately.
	c.CloseConnectionFromClient(conn.ID)
	upgradeClient := newFakeClient()
	c.OpenDatabaseConnection(upgradeClient, 2)
	upgradeResult := upgradeClient.requireOpened(t)
	require.Equal(t, coordinator.ResultUpgradeNeeded, upgradeResult.Kind)
	commitCh := make(chan idberr.Error, 1)
	c.CommitTransaction(upgradeResult.Transaction.ID, func(err idberr.Error) { commitCh <- err })
	require.True(t, waitErr(t, commitCh).IsNull())

	// The database is now at version 2; requesting version 1 explicitly
	// must fail with VersionError rather than silently downgrading.
	lowClient := newFakeClient()
	c.OpenDatabaseConnection(lowClient, 1)
	lowResult := lowClient.requireOpened(t)
	require.Equal(t, coordinator.ResultError, lowResult.Kind)
	require.Equal(t, idberr.VersionError, lowResult.Err.Kind)
}

func TestPutAndGetRecordRoundTrip(t *testing.T) {
	c := newTestCoordinator(t)
	_, conn := openAndUpgrade(t, c, model.NewObjectStoreInfo(1, "widgets", nil, false))

	txID, derr := c.CreateTransaction(conn.ID, txn.ReadWrite, []model.ObjectStoreID{1})
	require.True(t, derr.IsNull())

	require.Eventually(t, func() bool {
		keyCh := make(chan idberr.Error, 1)
		done := false
		c.PutRecord(txID, 1, model.NewBytesKey([]byte("k1")), []byte("hello"), coordinator.Overwrite, func(err idberr.Error, _ model.KeyData) {
			keyCh <- err
			done = true
		})
		select {
		case err := <-keyCh:
			return err.IsNull()
		case <-time.After(50 * time.Millisecond):
			return done
		}
	}, testTimeout, 10*time.Millisecond, "put never succeeded once the transaction became active")

	commitCh := make(chan idberr.Error, 1)
	c.CommitTransaction(txID, func(err idberr.Error) { commitCh <- err })
	require.True(t, waitErr(t, commitCh).IsNull())

	readTxID, derr := c.CreateTransaction(conn.ID, txn.ReadOnly, []model.ObjectStoreID{1})
	require.True(t, derr.IsNull())

	require.Eventually(t, func() bool {
		resCh := make(chan model.GetResult, 1)
		errCh := make(chan idberr.Error, 1)
		c.GetRecord(readTxID, 1, model.ExactKeyRange(model.NewBytesKey([]byte("k1"))), func(err idberr.Error, result model.GetResult) {
			errCh <- err
			resCh <- result
		})
		select {
		case err := <-errCh:
			if !err.IsNull() {
				return false
			}
			result := <-resCh
			return result.Found && string(result.Value) == "hello"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, testTimeout, 10*time.Millisecond, "get never observed the committed record")
}

func TestPutWithNoOverwriteFailsOnExistingKey(t *testing.T) {
	c := newTestCoordinator(t)
	_, conn := openAndUpgrade(t, c, model.NewObjectStoreInfo(1, "widgets", nil, false))

	txID, derr := c.CreateTransaction(conn.ID, txn.ReadWrite, []model.ObjectStoreID{1})
	require.True(t, derr.IsNull())

	key := model.NewBytesKey([]byte("k1"))
	require.Eventually(t, func() bool {
		errCh := make(chan idberr.Error, 1)
		c.PutRecord(txID, 1, key, []byte("v1"), coordinator.NoOverwrite, func(err idberr.Error, _ model.KeyData) { errCh <- err })
		select {
		case err := <-errCh:
			return err.IsNull()
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, testTimeout, 10*time.Millisecond, "first add never succeeded")

	errCh := make(chan idberr.Error, 1)
	c.PutRecord(txID, 1, key, []byte("v2"), coordinator.NoOverwrite, func(err idberr.Error, _ model.KeyData) { errCh <- err })
	err := waitErr(t, errCh)
	require.False(t, err.IsNull())
	require.Equal(t, idberr.ConstraintError, err.Kind)
}

func TestAutoIncrementKeyIsAssignedWhenKeyOmitted(t *testing.T) {
	c := newTestCoordinator(t)
	_, conn := openAndUpgrade(t, c, model.NewObjectStoreInfo(1, "widgets", nil, true))

	txID, derr := c.CreateTransaction(conn.ID, txn.ReadWrite, []model.ObjectStoreID{1})
	require.True(t, derr.IsNull())

	var gotKey model.KeyData
	require.Eventually(t, func() bool {
		keyCh := make(chan model.KeyData, 1)
		errCh := make(chan idberr.Error, 1)
		c.PutRecord(txID, 1, model.InvalidKey, []byte("v"), coordinator.Overwrite, func(err idberr.Error, key model.KeyData) {
			errCh <- err
			keyCh <- key
		})
		select {
		case err := <-errCh:
			if !err.IsNull() {
				return false
			}
			gotKey = <-keyCh
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, testTimeout, 10*time.Millisecond, "put with an omitted key never succeeded")

	n, ok := gotKey.AsNumber()
	require.True(t, ok)
	require.Equal(t, float64(1), n)
}

func TestOperationOnNonActiveTransactionFailsImmediately(t *testing.T) {
	c := newTestCoordinator(t)
	_, conn1 := openAndUpgrade(t, c, model.NewObjectStoreInfo(1, "widgets", nil, false))

	tx1, derr := c.CreateTransaction(conn1.ID, txn.ReadWrite, []model.ObjectStoreID{1})
	require.True(t, derr.IsNull())

	// tx2 targets the same scope as tx1 and so must be deferred behind
	// it by the scheduler until tx1 completes.
	tx2, derr := c.CreateTransaction(conn1.ID, txn.ReadWrite, []model.ObjectStoreID{1})
	require.True(t, derr.IsNull())

	errCh := make(chan idberr.Error, 1)
	c.GetRecord(tx2, 1, model.KeyRange{}, func(err idberr.Error, _ model.GetResult) { errCh <- err })
	err := waitErr(t, errCh)
	require.False(t, err.IsNull())
	require.Equal(t, idberr.InvalidStateError, err.Kind)

	commitCh := make(chan idberr.Error, 1)
	c.CommitTransaction(tx1, func(err idberr.Error) { commitCh <- err })
	require.True(t, waitErr(t, commitCh).IsNull())

	require.Eventually(t, func() bool {
		readCh := make(chan idberr.Error, 1)
		c.GetRecord(tx2, 1, model.KeyRange{}, func(err idberr.Error, _ model.GetResult) { readCh <- err })
		select {
		case err := <-readCh:
			return err.IsNull()
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, testTimeout, 10*time.Millisecond, "tx2 never became active once tx1 committed")

	commit2Ch := make(chan idberr.Error, 1)
	c.CommitTransaction(tx2, func(err idberr.Error) { commit2Ch <- err })
	require.True(t, waitErr(t, commit2Ch).IsNull())
}

func TestAbortingVersionChangeTransactionRestoresSchema(t *testing.T) {
	c := newTestCoordinator(t)
	client := newFakeClient()
	c.OpenDatabaseConnection(client, 0)
	result := client.requireOpened(t)
	require.Equal(t, coordinator.ResultUpgradeNeeded, result.Kind)

	errCh := make(chan idberr.Error, 1)
	c.CreateObjectStore(result.Transaction.ID, model.NewObjectStoreInfo(1, "widgets", nil, false), func(err idberr.Error) { errCh <- err })
	require.True(t, waitErr(t, errCh).IsNull())

	abortCh := make(chan idberr.Error, 1)
	c.AbortTransaction(result.Transaction.ID, func(err idberr.Error) { abortCh <- err })
	require.True(t, waitErr(t, abortCh).IsNull())

	// Aborting leaves the first connection open; close it so the next
	// upgrade does not wait on it.
	c.CloseConnectionFromClient(result.Connection.ID)

	// A second connection opening at version 0 should see the database
	// as if "widgets" had never been created, and itself be offered a
	// fresh version-change transaction at version 1.
	client2 := newFakeClient()
	c.OpenDatabaseConnection(client2, 0)
	result2 := client2.requireOpened(t)
	require.Equal(t, coordinator.ResultUpgradeNeeded, result2.Kind)
	require.Equal(t, uint64(1), result2.Transaction.NewVersion)
}

func TestDeleteObjectStoreRemovesItFromSchema(t *testing.T) {
	c := newTestCoordinator(t)
	client1, conn := openAndUpgrade(t, c, model.NewObjectStoreInfo(1, "widgets", nil, false))

	client2 := newFakeClient()
	c.OpenDatabaseConnection(client2, 2)

	// conn is still open, so client1 must see a versionchange
	// notification giving it a chance to close before the upgrade can
	// claim the database.
	select {
	case v := <-client1.versionChange:
		require.Equal(t, uint64(2), v)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for versionchange notification")
	}

	c.CloseConnectionFromClient(conn.ID)

	result := client2.requireOpened(t)
	require.Equal(t, coordinator.ResultUpgradeNeeded, result.Kind)

	delErrCh := make(chan idberr.Error, 1)
	c.DeleteObjectStore(result.Transaction.ID, "widgets", func(err idberr.Error) { delErrCh <- err })
	require.True(t, waitErr(t, delErrCh).IsNull())

	commitCh := make(chan idberr.Error, 1)
	c.CommitTransaction(result.Transaction.ID, func(err idberr.Error) { commitCh <- err })
	require.True(t, waitErr(t, commitCh).IsNull())

	readTxID, derr := c.CreateTransaction(result.Connection.ID, txn.ReadOnly, nil)
	require.True(t, derr.IsNull())

	require.Eventually(t, func() bool {
		getErrCh := make(chan idberr.Error, 1)
		c.GetRecord(readTxID, 1, model.KeyRange{}, func(err idberr.Error, _ model.GetResult) { getErrCh <- err })
		select {
		case err := <-getErrCh:
			return !err.IsNull() && err.Kind == idberr.InvalidStateError
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, testTimeout, 10*time.Millisecond, "object store 1 should no longer exist after delete+commit")
}

// TestReopenAfterVersionChangeCommitUnblocksFollowingOpen guards against a
// version-change connection's slot surviving its own transaction: once
// the upgrade that claimed it commits, a later open must not be stuck
// waiting behind a connection that already resolved, even though that
// first connection is still open.
func TestReopenAfterVersionChangeCommitUnblocksFollowingOpen(t *testing.T) {
	c := newTestCoordinator(t)
	openAndUpgrade(t, c, model.NewObjectStoreInfo(1, "widgets", nil, false))

	second := newFakeClient()
	c.OpenDatabaseConnection(second, 0)
	result := second.requireOpened(t)
	require.Equal(t, coordinator.ResultOpenSuccess, result.Kind)
}

// TestReopenAfterVersionChangeAbortUnblocksFollowingOpen is the abort-side
// counterpart: an aborted version-change transaction must release its
// claimed connection slot too, not just on physical close.
func TestReopenAfterVersionChangeAbortUnblocksFollowingOpen(t *testing.T) {
	c := newTestCoordinator(t)
	client := newFakeClient()
	c.OpenDatabaseConnection(client, 0)
	result := client.requireOpened(t)
	require.Equal(t, coordinator.ResultUpgradeNeeded, result.Kind)

	errCh := make(chan idberr.Error, 1)
	c.CreateObjectStore(result.Transaction.ID, model.NewObjectStoreInfo(1, "widgets", nil, false), func(err idberr.Error) { errCh <- err })
	require.True(t, waitErr(t, errCh).IsNull())

	abortCh := make(chan idberr.Error, 1)
	c.AbortTransaction(result.Transaction.ID, func(err idberr.Error) { abortCh <- err })
	require.True(t, waitErr(t, abortCh).IsNull())

	// The aborted connection is still open (aborting a transaction
	// doesn't close its connection), so a second open must see the
	// versionchange notification rather than hang forever behind a
	// stale versionChangeConnection slot.
	second := newFakeClient()
	c.OpenDatabaseConnection(second, 1)
	select {
	case v := <-client.versionChange:
		require.Equal(t, uint64(1), v)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for versionchange notification; version-change connection slot was never released on abort")
	}
}

func TestGetCountConvertsToUint64(t *testing.T) {
	c := newTestCoordinator(t)
	_, conn := openAndUpgrade(t, c, model.NewObjectStoreInfo(1, "widgets", nil, false))

	txID, derr := c.CreateTransaction(conn.ID, txn.ReadWrite, []model.ObjectStoreID{1})
	require.True(t, derr.IsNull())

	require.Eventually(t, func() bool {
		errCh := make(chan idberr.Error, 1)
		c.PutRecord(txID, 1, model.NewBytesKey([]byte("a")), []byte("1"), coordinator.Overwrite, func(err idberr.Error, _ model.KeyData) { errCh <- err })
		select {
		case err := <-errCh:
			return err.IsNull()
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, testTimeout, 10*time.Millisecond, "put never succeeded")

	countCh := make(chan uint64, 1)
	errCh := make(chan idberr.Error, 1)
	c.GetCount(txID, 1, 0, model.KeyRange{}, func(err idberr.Error, count uint64) {
		errCh <- err
		countCh <- count
	})
	require.True(t, waitErr(t, errCh).IsNull())
	require.Equal(t, uint64(1), <-countCh)
}
