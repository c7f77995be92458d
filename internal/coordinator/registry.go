package coordinator

import (
	"github.com/cuemby/idbcoordinator/internal/metrics"
	"github.com/cuemby/idbcoordinator/internal/txn"
)

// addOpenConnection adds conn to the open set and remembers the
// ClientConnection it should receive version-change notifications on.
func (c *Coordinator) addOpenConnection(conn *txn.DatabaseConnection, client ClientConnection) {
	c.openConnections[conn.ID] = conn
	c.connectionClients[conn.ID] = client
	metrics.OpenConnections.Set(float64(len(c.openConnections)))
}

// CloseConnectionFromClient handles a client's request to close connID.
// If the connection still owns transactions that haven't finished, it
// is moved to the close-pending set instead of being removed outright;
// it is fully dropped once its last transaction completes.
func (c *Coordinator) CloseConnectionFromClient(connID txn.ConnectionID) {
	c.postMain(func() { c.closeConnectionFromClient(connID) })
}

func (c *Coordinator) closeConnectionFromClient(connID txn.ConnectionID) {
	if c.versionChangeConnection != nil && c.versionChangeConnection.ID == connID {
		c.versionChangeConnection = nil
	}

	conn, ok := c.openConnections[connID]
	if !ok {
		conn, ok = c.closePendingConnections[connID]
		if !ok {
			return
		}
	} else {
		delete(c.openConnections, connID)
		metrics.OpenConnections.Set(float64(len(c.openConnections)))
	}

	if conn.HasActiveTransactions() {
		conn.SetClosePending()
		c.closePendingConnections[connID] = conn
		return
	}

	delete(c.closePendingConnections, connID)
	delete(c.connectionClients, connID)

	// Now that a connection has closed, previously blocked transactions
	// might be runnable, and a pending version-change operation waiting
	// for every other connection to close might now be able to start.
	c.invokeScheduler()
}
