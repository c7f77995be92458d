// Package callback implements the four-way callback table that
// correlates a storage reply with the main-context continuation that
// issued the originating task.
//
// The id generator and every table are main-context only — there is no
// locking here, by design, matching the single-threaded-main-context
// concurrency model.
package callback
