package activity

import (
	"sync"
	"time"
)

// Timeouts for the wait operations in this package are in milliseconds:
// negative waits forever, zero polls, positive bounds the wait.

func waitTimer(timeoutMs int) (<-chan time.Time, func()) {
	if timeoutMs < 0 {
		return nil, func() {}
	}
	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	return timer.C, func() { timer.Stop() }
}

// SysMutex is a plain non-reentrant native mutex with timed acquisition.
type SysMutex struct {
	slot   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func NewSysMutex() *SysMutex {
	return &SysMutex{
		slot:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Lock acquires the mutex, giving up after timeoutMs.
func (m *SysMutex) Lock(timeoutMs int) bool {
	if timeoutMs == 0 {
		select {
		case m.slot <- struct{}{}:
			return true
		default:
			return false
		}
	}
	expired, stop := waitTimer(timeoutMs)
	defer stop()
	select {
	case m.slot <- struct{}{}:
		return true
	case <-expired:
		return false
	case <-m.closed:
		return false
	}
}

// Unlock releases the mutex. It reports false when the mutex was not locked.
func (m *SysMutex) Unlock() bool {
	select {
	case <-m.slot:
		return true
	default:
		return false
	}
}

// Close wakes every waiter with a failed acquisition.
func (m *SysMutex) Close() {
	m.once.Do(func() { close(m.closed) })
}

// SysSemaphore is a native manual-reset event. Posting wakes every waiter
// and leaves the semaphore posted until Reset.
type SysSemaphore struct {
	mu     sync.Mutex
	posted bool
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func NewSysSemaphore() *SysSemaphore {
	return &SysSemaphore{
		wake:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (s *SysSemaphore) Post() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posted {
		return
	}
	s.posted = true
	close(s.wake)
}

func (s *SysSemaphore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.posted {
		return
	}
	s.posted = false
	s.wake = make(chan struct{})
}

func (s *SysSemaphore) Posted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted
}

// Wait blocks until the semaphore is posted or timeoutMs passes, and
// reports whether it was posted.
func (s *SysSemaphore) Wait(timeoutMs int) bool {
	s.mu.Lock()
	if s.posted {
		s.mu.Unlock()
		return true
	}
	wake := s.wake
	s.mu.Unlock()
	if timeoutMs == 0 {
		return false
	}
	expired, stop := waitTimer(timeoutMs)
	defer stop()
	select {
	case <-wake:
		return true
	case <-expired:
		return false
	case <-s.closed:
		return false
	}
}

// Close wakes every waiter with a failed wait.
func (s *SysSemaphore) Close() {
	s.once.Do(func() { close(s.closed) })
}
