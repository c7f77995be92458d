package timer

import (
	"sync"
	"time"
)

// OneShot is a single-shot timer that, once armed, ignores further arm
// requests until it has fired. Firing does not call Fire directly from
// the timer goroutine; instead it hands Fire to Post, so the callback
// always runs on whatever context Post delivers to (the coordinator's
// main-context task queue in production use).
type OneShot struct {
	mu     sync.Mutex
	active bool

	post func(func())
	fire func()
}

// New builds a OneShot that, when it fires, calls post(fire).
func New(post func(func()), fire func()) *OneShot {
	return &OneShot{post: post, fire: fire}
}

// StartOneShot arms the timer to fire after d if it is not already
// armed. Returns true if this call armed it, false if a previous arm is
// still pending.
func (t *OneShot) StartOneShot(d time.Duration) bool {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return false
	}
	t.active = true
	t.mu.Unlock()

	time.AfterFunc(d, func() {
		t.mu.Lock()
		t.active = false
		t.mu.Unlock()
		t.post(t.fire)
	})
	return true
}

// IsActive reports whether the timer is currently armed.
func (t *OneShot) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
