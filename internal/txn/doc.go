// Package txn defines Transaction and DatabaseConnection, the two
// objects whose joint ownership governs a transaction's lifetime: a
// transaction lives as long as both its DatabaseConnection and one of
// the coordinator's scheduling containers (pending queue or in-progress
// map) hold a reference to it.
package txn
