package dispatch

// DefaultQueueDepth is the buffer size used for both the task and the
// reply channel unless New is given a more specific size.
const DefaultQueueDepth = 256

// Dispatcher owns the pair of FIFO channels a single database's
// coordinator uses to hand work to its storage goroutine and to get
// results back.
type Dispatcher struct {
	tasks   chan func()
	replies chan func()
	stop    chan struct{}
	done    chan struct{}
}

// New builds a Dispatcher and starts its storage-context worker
// goroutine. queueDepth controls how many tasks may be posted ahead of
// the worker before PostStorageTask blocks; DefaultQueueDepth is used
// if queueDepth <= 0.
func New(queueDepth int) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	d := &Dispatcher{
		tasks:   make(chan func(), queueDepth),
		replies: make(chan func(), queueDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// PostStorageTask enqueues task to run on the storage context, in
// order relative to every other task posted so far. Safe to call only
// from the main context.
func (d *Dispatcher) PostStorageTask(task func()) {
	select {
	case d.tasks <- task:
	case <-d.stop:
	}
}

// PostStorageReply enqueues reply to run on the main context, in order
// relative to every other reply posted so far. Safe to call only from
// the storage context.
func (d *Dispatcher) PostStorageReply(reply func()) {
	select {
	case d.replies <- reply:
	case <-d.stop:
	}
}

// Replies exposes the reply queue for the main context's own run loop
// to select over alongside its other event sources. The main context
// is responsible for calling the function it receives.
func (d *Dispatcher) Replies() <-chan func() {
	return d.replies
}

// Stop halts the storage worker goroutine after it finishes any task
// already in progress and waits for it to exit. Tasks still queued
// when Stop is called may or may not run before the worker exits;
// none runs after Stop returns.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case task := <-d.tasks:
			task()
		case <-d.stop:
			return
		}
	}
}
