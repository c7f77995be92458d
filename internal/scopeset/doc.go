// Package scopeset implements the scheduler's scope counters: a multiset
// of object store ids, supporting O(1) increment, decrement, and overlap
// probing against a transaction's scope.
package scopeset
