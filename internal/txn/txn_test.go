package txn

import (
	"testing"

	"github.com/cuemby/idbcoordinator/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestNewAssignsIncreasingIDs(t *testing.T) {
	conn := NewDatabaseConnection()
	a := New(conn, ReadOnly, nil)
	b := New(conn, ReadOnly, nil)
	assert.Less(t, uint64(a.ID), uint64(b.ID))
}

func TestNewRegistersWithConnection(t *testing.T) {
	conn := NewDatabaseConnection()
	tx := New(conn, ReadWrite, []model.ObjectStoreID{1})

	assert.True(t, conn.HasActiveTransactions())
	assert.Len(t, conn.Transactions(), 1)
	assert.Equal(t, Pending, tx.State())
}

func TestRemoveTransactionClearsActiveFlag(t *testing.T) {
	conn := NewDatabaseConnection()
	tx := New(conn, ReadOnly, nil)

	conn.RemoveTransaction(tx.ID)
	assert.False(t, conn.HasActiveTransactions())
}

func TestIsWritingAndIsVersionChange(t *testing.T) {
	conn := NewDatabaseConnection()

	ro := New(conn, ReadOnly, nil)
	assert.False(t, ro.IsWriting())
	assert.False(t, ro.IsVersionChange())

	rw := New(conn, ReadWrite, nil)
	assert.True(t, rw.IsWriting())
	assert.False(t, rw.IsVersionChange())

	vc := New(conn, VersionChange, nil)
	assert.True(t, vc.IsWriting())
	assert.True(t, vc.IsVersionChange())
}

func TestSetStateAndFinished(t *testing.T) {
	conn := NewDatabaseConnection()
	tx := New(conn, ReadOnly, nil)

	assert.False(t, tx.Finished())
	tx.SetState(Active)
	assert.Equal(t, Active, tx.State())
	tx.SetState(Completed)
	assert.True(t, tx.Finished())
}

func TestClosePending(t *testing.T) {
	conn := NewDatabaseConnection()
	assert.False(t, conn.ClosePending())
	conn.SetClosePending()
	assert.True(t, conn.ClosePending())
}

func TestModeAndStateString(t *testing.T) {
	assert.Equal(t, "readonly", ReadOnly.String())
	assert.Equal(t, "readwrite", ReadWrite.String())
	assert.Equal(t, "versionchange", VersionChange.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "completed", Completed.String())
}
