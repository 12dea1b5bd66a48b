// Package workqueue provides the execution contexts a session schedules
// its bookkeeping and delegate callbacks on.
package workqueue

import "sync"

// Executor runs submitted functions asynchronously.
type Executor interface {
	Async(fn func())
}

// Serial is an Executor that runs functions one at a time, in the order they
// were submitted. A drainer goroutine exists only while work is pending.
type Serial struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

// NewSerial returns an idle Serial queue.
func NewSerial() *Serial {
	return &Serial{}
}

// Async enqueues fn and returns immediately.
func (s *Serial) Async(fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.drain()
}

// Sync enqueues fn and blocks until it has run. A panic in fn is re-raised
// on the caller's goroutine. Calling Sync from a function already executing
// on the same queue deadlocks.
func (s *Serial) Sync(fn func()) {
	done := make(chan struct{})
	var perr any
	s.Async(func() {
		defer close(done)
		defer func() {
			perr = recover()
		}()
		fn()
	})
	<-done

	if perr != nil {
		panic(perr)
	}
}

func (s *Serial) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()

		fn()
	}
}

// Concurrent is an Executor that gives every function its own goroutine.
type Concurrent struct{}

func (Concurrent) Async(fn func()) { go fn() }
