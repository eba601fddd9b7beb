// Package activity runs interpreter threads. Each Activity is a goroutine
// pinned to an OS thread; all activities of a process share one execution
// lock, so at most one of them touches managed objects at a time. Activities
// give the lock up around blocking work (UnsafeBlock), periodically (Yield),
// and while waiting on the synchronisation primitives in this package.
package activity

import (
	"errors"
	goRuntime "runtime"
	"sync"
	"sync/atomic"

	"rexx/interpreter-go/pkg/memory"
)

var (
	// ErrNotHolder is returned when an activity releases a lock it does not hold.
	ErrNotHolder = errors.New("activity: execution lock not held by caller")
	// ErrShutdown is returned when work is submitted to a stopped manager.
	ErrShutdown = errors.New("activity: manager shut down")
)

// Options configure a Manager.
type Options struct {
	// MaxDepth bounds the frame stack of every activity. Zero means
	// DefaultMaxDepth.
	MaxDepth int
}

const DefaultMaxDepth = 1000

// Manager owns the execution lock and the registry of live activities.
type Manager struct {
	lock   chan struct{}
	holder atomic.Pointer[Activity]

	mu         sync.Mutex
	activities map[*Activity]struct{}
	closed     bool

	nextID   atomic.Int64
	maxDepth int
}

func NewManager(opts Options) *Manager {
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	return &Manager{
		lock:       make(chan struct{}, 1),
		activities: make(map[*Activity]struct{}),
		maxDepth:   depth,
	}
}

// Acquire blocks until act holds the execution lock. Waiters are served in
// arrival order.
func (m *Manager) Acquire(act *Activity) {
	m.lock <- struct{}{}
	m.holder.Store(act)
}

// Release gives the execution lock up.
func (m *Manager) Release(act *Activity) error {
	if m.holder.Load() != act {
		return ErrNotHolder
	}
	m.holder.Store(nil)
	<-m.lock
	return nil
}

// Holder returns the activity currently holding the lock, or nil.
func (m *Manager) Holder() *Activity {
	return m.holder.Load()
}

// HeldBy reports whether act holds the lock.
func (m *Manager) HeldBy(act *Activity) bool {
	return act != nil && m.holder.Load() == act
}

// Held reports whether any activity holds the lock.
func (m *Manager) Held() bool {
	return m.holder.Load() != nil
}

// HeldByCaller reports whether the lock is held by the activity running on
// the calling OS thread. It is the heap's lock check. Activities stay locked
// to their thread, so no other goroutine can pass it while the holder runs.
// Without native thread ids it only reports that some activity holds the
// lock.
func (m *Manager) HeldByCaller() bool {
	holder := m.holder.Load()
	if holder == nil {
		return false
	}
	return holder.thread == 0 || holder.thread == currentThreadID()
}

// Yield lets waiting activities run before act continues.
func (m *Manager) Yield(act *Activity) {
	if !m.HeldBy(act) {
		return
	}
	_ = m.Release(act)
	goRuntime.Gosched()
	m.Acquire(act)
}

// NewActivity registers an activity that has not started yet.
func (m *Manager) NewActivity(name string) (*Activity, error) {
	act := &Activity{
		id:      m.nextID.Add(1),
		name:    name,
		manager: m,
		done:    make(chan struct{}),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShutdown
	}
	m.activities[act] = struct{}{}
	return act, nil
}

// Attach creates an activity for the calling goroutine and acquires the
// execution lock for it. The caller ends it with Detach.
func (m *Manager) Attach(name string) (*Activity, error) {
	act, err := m.NewActivity(name)
	if err != nil {
		return nil, err
	}
	act.attached = true
	goRuntime.LockOSThread()
	act.thread = currentThreadID()
	m.Acquire(act)
	return act, nil
}

// Activities returns a snapshot of the registered activities.
func (m *Manager) Activities() []*Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Activity, 0, len(m.activities))
	for act := range m.activities {
		out = append(out, act)
	}
	return out
}

// MarkRoots reports every object reachable from the frames of every
// activity. It is registered with the heap as a root source.
func (m *Manager) MarkRoots(mark func(memory.Object)) {
	for _, act := range m.Activities() {
		act.markRoots(mark)
	}
}

// Shutdown stops new activities from being created and asks the running
// ones to halt.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	acts := make([]*Activity, 0, len(m.activities))
	for act := range m.activities {
		acts = append(acts, act)
	}
	m.mu.Unlock()
	for _, act := range acts {
		act.RequestHalt("shutdown")
	}
}

func (m *Manager) unregister(act *Activity) {
	m.mu.Lock()
	delete(m.activities, act)
	m.mu.Unlock()
}
