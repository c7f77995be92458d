// Package dispatch provides the FIFO task/reply channel pair that
// connects a database's main context to its storage context.
//
// Dispatcher itself carries no domain knowledge: it only guarantees
// that posted closures run, in order, on the context that owns them.
// The storage context drains tasks on a dedicated goroutine and may
// block freely inside a task; the main context drains replies on
// whatever goroutine calls Replies() in its own select loop and must
// never block doing so.
package dispatch
