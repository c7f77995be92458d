package coordinator

import (
	"github.com/cuemby/idbcoordinator/internal/backingstore"
	"github.com/cuemby/idbcoordinator/internal/callback"
	"github.com/cuemby/idbcoordinator/internal/dispatch"
	"github.com/cuemby/idbcoordinator/internal/log"
	"github.com/cuemby/idbcoordinator/internal/metrics"
	"github.com/cuemby/idbcoordinator/internal/model"
	"github.com/cuemby/idbcoordinator/internal/scopeset"
	"github.com/cuemby/idbcoordinator/internal/timer"
	"github.com/cuemby/idbcoordinator/internal/txn"
	"github.com/rs/zerolog"
)

// Coordinator owns one database: its cached schema, its open
// connections, its transaction scheduler, and the storage worker that
// drives a backingstore.Store on its behalf. All of Coordinator's
// state below this line is main-context-owned; it is mutated only by
// closures running on run's goroutine.
type Coordinator struct {
	id    DatabaseIdentifier
	store backingstore.Store

	dispatcher *dispatch.Dispatcher
	mainTasks  chan func()
	stop       chan struct{}
	done       chan struct{}

	log zerolog.Logger

	callbacks *callback.Table
	scopes    *scopeset.Set

	info *model.DatabaseInfo

	pendingOpenRequests []*openRequest

	openConnections         map[txn.ConnectionID]*txn.DatabaseConnection
	closePendingConnections map[txn.ConnectionID]*txn.DatabaseConnection
	connectionClients       map[txn.ConnectionID]ClientConnection

	pendingTransactions    []*txn.Transaction
	inProgressTransactions map[txn.ID]*txn.Transaction

	versionChangeOperation   *openRequest
	versionChangeConnection  *txn.DatabaseConnection
	versionChangeTransaction *txn.Transaction

	schedulerTimer *timer.OneShot
}

// New constructs a Coordinator for the database identified by id,
// backed by store, and starts its main-context run loop.
func New(id DatabaseIdentifier, store backingstore.Store) *Coordinator {
	c := &Coordinator{
		id:                      id,
		store:                   store,
		dispatcher:              dispatch.New(dispatch.DefaultQueueDepth),
		mainTasks:               make(chan func(), dispatch.DefaultQueueDepth),
		stop:                    make(chan struct{}),
		done:                    make(chan struct{}),
		log:                     log.WithDatabaseID(string(id)),
		callbacks:               callback.NewTable(),
		scopes:                  scopeset.New(),
		openConnections:         make(map[txn.ConnectionID]*txn.DatabaseConnection),
		closePendingConnections: make(map[txn.ConnectionID]*txn.DatabaseConnection),
		connectionClients:       make(map[txn.ConnectionID]ClientConnection),
		inProgressTransactions:  make(map[txn.ID]*txn.Transaction),
	}
	c.schedulerTimer = timer.New(c.postMain, c.schedulerTick)
	go c.run()
	return c
}

// postMain enqueues fn to run on the main context, in order relative
// to every other main-context closure posted so far.
func (c *Coordinator) postMain(fn func()) {
	select {
	case c.mainTasks <- fn:
	case <-c.stop:
	}
}

// postStorageTask wraps task with the latency histogram and a debug
// log line, then hands it to the Dispatcher for the storage worker to
// run. Called only from the main context.
func (c *Coordinator) postStorageTask(operation string, task func()) {
	c.log.Debug().Str("operation", operation).Msg("posting storage task")
	c.dispatcher.PostStorageTask(func() {
		tm := metrics.NewTimer()
		task()
		tm.ObserveDuration(metrics.StorageTaskDuration, operation)
	})
}

// run is the Coordinator's single-threaded main context: it drains
// posted main tasks and storage replies, strictly serialized, until
// Close is called.
func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case task := <-c.mainTasks:
			task()
		case reply := <-c.dispatcher.Replies():
			reply()
		case <-c.stop:
			return
		}
	}
}

// Close stops the main-context run loop and the storage worker, then
// closes the backing store. It does not wait for in-flight
// transactions to finish; callers should drain those first.
func (c *Coordinator) Close() error {
	close(c.stop)
	<-c.done
	c.dispatcher.Stop()
	return c.store.Close()
}

func (c *Coordinator) recordError(kind string) {
	metrics.OperationErrorsTotal.WithLabelValues(kind).Inc()
}
