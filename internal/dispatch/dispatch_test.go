package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostStorageTaskRunsOnWorker(t *testing.T) {
	d := New(4)
	defer d.Stop()

	done := make(chan struct{})
	d.PostStorageTask(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestTasksRunInFIFOOrder(t *testing.T) {
	d := New(16)
	defer d.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(10)

	for i := 0; i < 10; i++ {
		i := i
		d.PostStorageTask(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestRepliesDeliveredThroughChannel(t *testing.T) {
	d := New(4)
	defer d.Stop()

	var seen int32
	d.PostStorageReply(func() { atomic.AddInt32(&seen, 1) })

	select {
	case reply := <-d.Replies():
		reply()
	case <-time.After(time.Second):
		t.Fatal("reply never delivered")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&seen))
}

func TestStopWaitsForInFlightTaskAndHalts(t *testing.T) {
	d := New(4)

	started := make(chan struct{})
	release := make(chan struct{})
	d.PostStorageTask(func() {
		close(started)
		<-release
	})
	<-started
	close(release)

	d.Stop()

	ranAfterStop := false
	d.PostStorageTask(func() { ranAfterStop = true })
	time.Sleep(10 * time.Millisecond)
	require.False(t, ranAfterStop)
}
