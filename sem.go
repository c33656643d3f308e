package ccan

import (
	"sync"
	"time"
)

// txSemaphore is the transmit admission counter: a counting permit pool
// sized to the transmit ring. Releases are not capped at the initial
// capacity; the transmit drain's wrap/drain bonus release can transiently
// push the count past the ring's true free capacity and this is reproduced
// as observed on the reference hardware path.
type txSemaphore struct {
	mu    sync.Mutex
	count int
	wake  chan struct{}
	dead  chan struct{}
}

func newTxSemaphore(capacity int) *txSemaphore {
	return &txSemaphore{
		count: capacity,
		wake:  make(chan struct{}, 1),
		dead:  make(chan struct{}),
	}
}

// Acquire takes one admission unit, blocking until one is available. A
// negative timeout blocks indefinitely. Returns ErrTxAbandoned if the
// counter is destroyed while waiting and ErrTimeout on expiry.
func (s *txSemaphore) Acquire(timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		s.mu.Lock()
		select {
		case <-s.dead:
			s.mu.Unlock()
			return ErrTxAbandoned
		default:
		}
		if s.count > 0 {
			s.count--
			// pass the wakeup on if more units remain, the wake
			// channel carries at most one token
			if s.count > 0 {
				select {
				case s.wake <- struct{}{}:
				default:
				}
			}
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.dead:
			return ErrTxAbandoned
		case <-deadline:
			return ErrTimeout
		}
	}
}

// Release returns one admission unit and wakes a waiter.
func (s *txSemaphore) Release() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Destroy abandons the counter: all waiters are released with an error and
// further acquires fail immediately.
func (s *txSemaphore) Destroy() {
	s.mu.Lock()
	select {
	case <-s.dead:
	default:
		close(s.dead)
	}
	s.mu.Unlock()
}

func (s *txSemaphore) available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
