package coordinator

import (
	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/txn"
	"github.com/google/uuid"
)

// DatabaseIdentifier opaquely names the database a Coordinator owns.
// Callers that want an unguessable identifier can supply
// uuid.New().String(); the Coordinator itself never interprets it.
type DatabaseIdentifier string

// RequestIdentifier names one openDatabaseConnection call, handed back
// to the caller immediately and usable to correlate the eventual
// ClientConnection callback with the request that triggered it.
type RequestIdentifier = uuid.UUID

// OverwriteMode selects putOrAdd's collision behavior.
type OverwriteMode int

const (
	// NoOverwrite fails with ConstraintError if the key already exists
	// (IndexedDB's "add").
	NoOverwrite OverwriteMode = iota
	// Overwrite replaces any existing record at the key (IndexedDB's
	// "put").
	Overwrite
)

// ResultKind discriminates ResultData's payload.
type ResultKind int

const (
	ResultOpenSuccess ResultKind = iota
	ResultUpgradeNeeded
	ResultError
)

// ResultData is delivered to a ClientConnection in response to
// openDatabaseConnection.
type ResultData struct {
	Kind        ResultKind
	Connection  *txn.DatabaseConnection
	Transaction *txn.Transaction // only set for ResultUpgradeNeeded
	Err         idberr.Error     // only set for ResultError
}

// ClientConnection is the callback surface a caller of
// OpenDatabaseConnection implements to receive asynchronous results.
// It is the Go realization of the external ClientConnection
// collaborator: didOpenDatabase and fireVersionChangeEvent.
type ClientConnection interface {
	// DidOpenDatabase delivers the outcome of an openDatabaseConnection
	// call: success, "upgrade needed", or an error.
	DidOpenDatabase(RequestIdentifier, ResultData)
	// FireVersionChangeEvent notifies an already-open connection that
	// another client wants to upgrade to requestedVersion, so it
	// should close.
	FireVersionChangeEvent(requestedVersion uint64)
}

// openRequest is one pending openDatabaseConnection call.
type openRequest struct {
	id               RequestIdentifier
	client           ClientConnection
	requestedVersion uint64
}
