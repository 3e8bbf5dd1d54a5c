// Package semaphore implements the bounded-wait counting semaphore spec.md
// §9 calls for: the only synchronization primitive the decoder worker and
// collector need beyond a mutex and atomics.
//
// Go has no native counting semaphore with a timeout, so this is built the
// way the pack builds its other signal/notification primitives — a small
// buffered channel used purely as a wake signal, following the style of
// internal/fileplayer.FilePlayer's stopChan/playbackCompleteChan.
package semaphore

import "time"

// Semaphore is a counting semaphore with a single outstanding-signal slot:
// Signal() never blocks, and redundant signals while one is already pending
// are dropped, since a worker that wakes once will re-check its own
// condition anyway.
type Semaphore struct {
	ch chan struct{}
}

// New creates a semaphore with no pending signal.
func New() *Semaphore {
	return &Semaphore{ch: make(chan struct{}, 1)}
}

// Signal wakes one waiter, or leaves the pending signal in place if one is
// already queued. Safe to call from any thread, including the realtime
// render callback: it never blocks and never allocates.
func (s *Semaphore) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal is called or the timeout elapses. Returns true if
// woken by a signal, false on timeout. Callers needing an indefinite wait
// should use WaitForever instead of passing a large timeout.
func (s *Semaphore) Wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	}
}

// WaitForever blocks until Signal is called, with no timeout.
func (s *Semaphore) WaitForever() {
	<-s.ch
}
