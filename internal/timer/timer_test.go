package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOneShotFiresThroughPost(t *testing.T) {
	var mu sync.Mutex
	var postedOn string

	done := make(chan struct{})
	post := func(fn func()) {
		mu.Lock()
		postedOn = "post"
		mu.Unlock()
		fn()
		close(done)
	}

	ot := New(post, func() {})
	assert.True(t, ot.StartOneShot(0))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "post", postedOn)
}

func TestStartOneShotIgnoresReentrantArm(t *testing.T) {
	post := func(fn func()) { fn() }
	ot := New(post, func() {})

	require.True(t, ot.StartOneShot(time.Hour))
	assert.False(t, ot.StartOneShot(time.Hour), "second arm while still pending must be ignored")
	assert.True(t, ot.IsActive())
}

func TestCanRearmAfterFiring(t *testing.T) {
	fires := make(chan struct{}, 2)
	post := func(fn func()) { fn() }
	ot := New(post, func() { fires <- struct{}{} })

	ot.StartOneShot(0)
	<-fires

	assert.False(t, ot.IsActive())
	assert.True(t, ot.StartOneShot(0))
	<-fires
}
