// Package timer implements the single-shot, main-context timer the
// scheduler uses to defer activation work onto the next turn instead of
// running it reentrantly within the caller.
package timer
