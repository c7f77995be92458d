// Package coordinator implements the per-database transaction
// coordinator: connection admission (including the version-change
// "upgrade" protocol), the single-writer-per-scope transaction
// scheduler, and the three-phase operation handlers that drive a
// backingstore.Store from the main context while the actual I/O runs
// on a dedicated storage goroutine.
//
// A Coordinator owns exactly one database. Every exported method is
// safe to call from any goroutine: each posts a closure onto the
// Coordinator's own single-threaded run loop and returns immediately,
// delivering its result later through either a ClientConnection
// callback or an explicit done func parameter. CreateTransaction and
// Close are the exceptions: CreateTransaction waits for the run loop to
// queue the transaction and returns its id, so it never returns when
// called from a callback running on that loop; Close waits for the run
// loop and the storage worker to stop.
package coordinator
