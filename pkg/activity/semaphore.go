package activity

import "sync"

// ReentrantMutex is a mutex owned by an activity. The owner may request it
// again; each request must be matched by a release before another activity
// can take it. An activity that ends while holding it releases it
// completely.
type ReentrantMutex struct {
	native *SysMutex

	mu    sync.Mutex
	owner *Activity
	count int
}

func NewReentrantMutex() *ReentrantMutex {
	return &ReentrantMutex{native: NewSysMutex()}
}

// Request acquires the mutex for act. A zero timeout polls without giving
// up the execution lock; any other timeout waits with it released.
func (m *ReentrantMutex) Request(act *Activity, timeoutMs int) bool {
	m.mu.Lock()
	if m.owner == act {
		m.count++
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	var ok bool
	if timeoutMs == 0 {
		ok = m.native.Lock(0)
	} else {
		act.Blocking(func() { ok = m.native.Lock(timeoutMs) })
	}
	if !ok {
		return false
	}
	m.mu.Lock()
	m.owner = act
	m.count = 1
	m.mu.Unlock()
	act.addHeld(m)
	return true
}

// Release undoes one Request. It reports false when act is not the owner.
func (m *ReentrantMutex) Release(act *Activity) bool {
	m.mu.Lock()
	if m.owner != act || m.count == 0 {
		m.mu.Unlock()
		return false
	}
	m.count--
	if m.count > 0 {
		m.mu.Unlock()
		return true
	}
	m.owner = nil
	m.mu.Unlock()
	act.removeHeld(m)
	m.native.Unlock()
	return true
}

func (m *ReentrantMutex) forceRelease(act *Activity) {
	m.mu.Lock()
	if m.owner != act {
		m.mu.Unlock()
		return
	}
	m.owner = nil
	m.count = 0
	m.mu.Unlock()
	m.native.Unlock()
}

// Holder returns the owning activity, or nil.
func (m *ReentrantMutex) Holder() *Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Count is the owner's nesting depth.
func (m *ReentrantMutex) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Close fails every pending request.
func (m *ReentrantMutex) Close() {
	m.native.Close()
}

// EventSemaphore is the interpreter-level event: waiters give up the
// execution lock while they block, and a post wakes all of them.
type EventSemaphore struct {
	native *SysSemaphore
}

func NewEventSemaphore() *EventSemaphore {
	return &EventSemaphore{native: NewSysSemaphore()}
}

func (e *EventSemaphore) Post() { e.native.Post() }

func (e *EventSemaphore) Reset() { e.native.Reset() }

func (e *EventSemaphore) Posted() bool { return e.native.Posted() }

func (e *EventSemaphore) Close() { e.native.Close() }

// Wait waits for a post. A zero timeout is a poll that keeps the execution
// lock; otherwise the lock is released for the duration of the wait.
func (e *EventSemaphore) Wait(act *Activity, timeoutMs int) bool {
	if timeoutMs == 0 {
		return e.native.Wait(0)
	}
	var posted bool
	act.Blocking(func() { posted = e.native.Wait(timeoutMs) })
	return posted
}
