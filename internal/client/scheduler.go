package client

import (
	"sync"
	"time"
)

// DefaultFlushInterval is how long updates are coalesced before delivery.
const DefaultFlushInterval = 50 * time.Millisecond

// Scheduler coalesces rapid updates into at most one delivery per interval.
// Only the latest value is delivered. Flush delivers at once and cancels
// any pending timer. Deliveries are ordered: a timer that fires after a
// newer Flush never delivers its older value.
//
// deliver runs on the caller's goroutine for Flush and on a timer goroutine
// otherwise. It must not call back into the Scheduler.
type Scheduler[T any] struct {
	delay   time.Duration
	deliver func(T)

	mu      sync.Mutex
	pending T
	has     bool
	timer   *time.Timer
	seq     uint64
	stopped bool

	deliverMu sync.Mutex
	delivered uint64
}

// NewScheduler creates a Scheduler. A non-positive delay uses
// DefaultFlushInterval.
func NewScheduler[T any](delay time.Duration, deliver func(T)) *Scheduler[T] {
	if delay <= 0 {
		delay = DefaultFlushInterval
	}
	return &Scheduler[T]{delay: delay, deliver: deliver}
}

// Update stashes v and arms the timer unless a delivery is already pending.
func (s *Scheduler[T]) Update(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.seq++
	s.pending = v
	s.has = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.fire)
	}
}

// Flush delivers v immediately, superseding anything pending.
func (s *Scheduler[T]) Flush(v T) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.emit(seq, v)
}

// Stop drops any pending value. Later calls are ignored.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.stopped = true
}

func (s *Scheduler[T]) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	var zero T
	s.pending = zero
	s.has = false
}

func (s *Scheduler[T]) fire() {
	s.mu.Lock()
	if !s.has || s.stopped {
		s.mu.Unlock()
		return
	}
	v, seq := s.pending, s.seq
	var zero T
	s.pending = zero
	s.has = false
	s.timer = nil
	s.mu.Unlock()

	s.emit(seq, v)
}

func (s *Scheduler[T]) emit(seq uint64, v T) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if seq <= s.delivered {
		return
	}
	s.delivered = seq
	s.deliver(v)
}
