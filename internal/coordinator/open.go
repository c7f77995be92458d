package coordinator

import (
	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/metrics"
	"github.com/cuemby/idbcoordinator/internal/model"
	"github.com/cuemby/idbcoordinator/internal/txn"
	"github.com/google/uuid"
)

// OpenDatabaseConnection begins admitting a new client connection at
// requestedVersion (0 meaning "use the current version"). It returns
// immediately with a RequestIdentifier the caller can use to recognize
// the eventual ClientConnection.DidOpenDatabase callback; the call
// itself always runs asynchronously on the main context.
func (c *Coordinator) OpenDatabaseConnection(client ClientConnection, requestedVersion uint64) RequestIdentifier {
	req := &openRequest{id: uuid.New(), client: client, requestedVersion: requestedVersion}
	c.postMain(func() { c.handleOpenDatabaseConnection(req) })
	return req.id
}

func (c *Coordinator) handleOpenDatabaseConnection(req *openRequest) {
	c.pendingOpenRequests = append(c.pendingOpenRequests, req)

	if c.info != nil {
		c.handleOpenRequests()
		return
	}

	c.postStorageTask("openBackingStore", func() {
		info, err := c.store.GetOrEstablishDatabaseInfo()
		c.dispatcher.PostStorageReply(func() { c.didOpenBackingStore(info, err) })
	})
}

func (c *Coordinator) didOpenBackingStore(info *model.DatabaseInfo, err idberr.Error) {
	if c.info == nil {
		if !err.IsNull() {
			c.log.Error().Str("kind", string(err.Kind)).Msg("failed to open backing store")
			c.recordError(string(err.Kind))
			for _, req := range c.pendingOpenRequests {
				req.client.DidOpenDatabase(req.id, ResultData{Kind: ResultError, Err: err})
			}
			c.pendingOpenRequests = nil
			return
		}
		c.info = info
	}
	c.handleOpenRequests()
}

// handleOpenRequests services exactly one pending open request per
// call, matching the original's single takeFirst-per-invocation shape:
// callers that enqueue N requests before the schema is cached trigger
// N storage round-trips, each of which drains one request here.
func (c *Coordinator) handleOpenRequests() {
	if len(c.pendingOpenRequests) == 0 {
		return
	}
	// A version-change connection is already claimed; new connections
	// must wait for it to resolve.
	if c.versionChangeConnection != nil {
		return
	}

	req := c.pendingOpenRequests[0]
	c.pendingOpenRequests = c.pendingOpenRequests[1:]

	requestedVersion := req.requestedVersion
	if requestedVersion == 0 {
		requestedVersion = c.info.Version
		if requestedVersion < 1 {
			requestedVersion = 1
		}
	}

	if requestedVersion < c.info.Version {
		req.client.DidOpenDatabase(req.id, ResultData{
			Kind: ResultError,
			Err:  idberr.New(idberr.VersionError, "requested version %d is less than current version %d", requestedVersion, c.info.Version),
		})
		return
	}

	conn := txn.NewDatabaseConnection()

	if requestedVersion == c.info.Version {
		c.addOpenConnection(conn, req.client)
		req.client.DidOpenDatabase(req.id, ResultData{Kind: ResultOpenSuccess, Connection: conn})
		return
	}

	req.requestedVersion = requestedVersion
	c.versionChangeOperation = req
	c.versionChangeConnection = conn
	c.connectionClients[conn.ID] = req.client

	if len(c.openConnections) == 0 {
		c.startVersionChangeTransaction()
		return
	}
	c.notifyConnectionsOfVersionChange(requestedVersion)
}

// startVersionChangeTransaction promotes the claimed version-change
// connection into the open set, creates its VersionChange transaction
// scoped to the whole database, and begins it in the backing store.
func (c *Coordinator) startVersionChangeTransaction() {
	req := c.versionChangeOperation
	c.versionChangeOperation = nil

	conn := c.versionChangeConnection
	c.addOpenConnection(conn, req.client)

	scope := make([]model.ObjectStoreID, 0, len(c.info.ObjectStores))
	for id := range c.info.ObjectStores {
		scope = append(scope, id)
	}

	t := txn.New(conn, txn.VersionChange, scope)
	t.NewVersion = req.requestedVersion
	t.OriginalInfo = c.info.Clone()

	c.versionChangeTransaction = t
	c.inProgressTransactions[t.ID] = t
	metrics.InProgressTransactions.WithLabelValues(t.Mode.String()).Inc()

	// See schedulerTick: Active is set synchronously, since the storage
	// worker's FIFO ordering already guarantees any operation posted
	// against t runs after this beginTransaction task.
	t.SetState(txn.Active)

	c.postStorageTask("beginTransaction", func() {
		err := c.store.BeginTransaction(t.ID, true)
		c.dispatcher.PostStorageReply(func() {
			if !err.IsNull() {
				c.log.Error().Str("kind", string(err.Kind)).Msg("failed to begin version-change transaction")
			}
		})
	})

	req.client.DidOpenDatabase(req.id, ResultData{Kind: ResultUpgradeNeeded, Connection: conn, Transaction: t})
}

// notifyConnectionsOfVersionChange fires a synthetic versionchange
// notification at every open connection that hasn't already requested
// close, so they have a chance to close before the upgrade proceeds.
func (c *Coordinator) notifyConnectionsOfVersionChange(requestedVersion uint64) {
	for id, conn := range c.openConnections {
		if conn.ClosePending() {
			continue
		}
		if client, ok := c.connectionClients[id]; ok {
			client.FireVersionChangeEvent(requestedVersion)
		}
	}
}
