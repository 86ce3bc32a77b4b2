// Package exit coordinates cooperative shutdown. Components register release
// callbacks on a shared Exit; firing it runs each callback exactly once.
package exit

import (
	"sync"
)

// Exit is a shutdown coordinator shared by every component that owns a
// resource to release on termination.
type Exit struct {
	mu        sync.Mutex
	callbacks []func()
	exited    bool
	done      chan struct{}
}

// New returns an Exit that has not fired.
func New() *Exit {
	return &Exit{done: make(chan struct{})}
}

// Register adds a release callback. Callbacks registered after Fire run
// immediately on the calling goroutine.
func (e *Exit) Register(fn func()) {
	e.mu.Lock()
	if e.exited {
		e.mu.Unlock()
		fn()
		return
	}
	e.callbacks = append(e.callbacks, fn)
	e.mu.Unlock()
}

// Fire runs the registered callbacks in registration order. Only the first
// call does any work; later calls return immediately.
func (e *Exit) Fire() {
	e.mu.Lock()
	if e.exited {
		e.mu.Unlock()
		return
	}
	e.exited = true
	callbacks := e.callbacks
	e.callbacks = nil
	e.mu.Unlock()

	// Callbacks run without the lock so they may block on goroutines that
	// call Exited or Register.
	for _, fn := range callbacks {
		fn()
	}
	close(e.done)
}

// Exited reports whether Fire has been called.
func (e *Exit) Exited() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exited
}

// Done is closed once every callback registered before Fire has returned.
func (e *Exit) Done() <-chan struct{} {
	return e.done
}
