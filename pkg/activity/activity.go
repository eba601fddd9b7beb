package activity

import (
	"errors"
	"fmt"
	goRuntime "runtime"
	"sync"
	"sync/atomic"

	"rexx/interpreter-go/pkg/memory"
)

// ErrStackFull is returned by PushFrame when the frame stack is at its limit.
var ErrStackFull = errors.New("activity: control stack full")

// Frame is one entry of an activity's frame stack. Frames report the
// managed objects they keep alive.
type Frame interface {
	MarkRoots(mark func(memory.Object))
}

// PanicError wraps a value recovered from a panicking activity.
type PanicError struct {
	Activity string
	Value    any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("activity %s: panic: %v", e.Activity, e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Activity is one interpreter thread.
type Activity struct {
	id      int64
	name    string
	manager *Manager
	thread  int

	frames []Frame
	held   []*ReentrantMutex
	roots  []memory.Object

	halt       atomic.Bool
	haltMu     sync.Mutex
	haltReason string

	attached bool
	started  bool
	done     chan struct{}
	err      error
	ended    bool
}

func (a *Activity) ID() int64 { return a.id }

func (a *Activity) Name() string { return a.name }

func (a *Activity) Manager() *Manager { return a.manager }

// ThreadID is the native thread the activity runs on, or zero before start.
func (a *Activity) ThreadID() int { return a.thread }

func (a *Activity) String() string {
	return fmt.Sprintf("activity %d (%s)", a.id, a.name)
}

// Start runs fn on a new goroutine locked to its own OS thread. fn runs
// with the execution lock held.
func (a *Activity) Start(fn func(*Activity) error) {
	if a.started || a.attached {
		panic(fmt.Sprintf("%s already started", a))
	}
	a.started = true
	go a.run(fn)
}

func (a *Activity) run(fn func(*Activity) error) {
	goRuntime.LockOSThread()
	defer goRuntime.UnlockOSThread()
	a.thread = currentThreadID()
	a.manager.Acquire(a)
	err := a.safeInvoke(fn)
	a.finish(err)
}

func (a *Activity) safeInvoke(fn func(*Activity) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Activity: a.name, Value: r}
		}
	}()
	return fn(a)
}

// finish tears the activity down. It is called with the lock held and
// leaves it released.
func (a *Activity) finish(err error) {
	if a.ended {
		return
	}
	a.ended = true
	a.teardown()
	a.err = err
	a.manager.unregister(a)
	if a.manager.HeldBy(a) {
		_ = a.manager.Release(a)
	}
	close(a.done)
}

// teardown drops the frame stack and force-releases every reentrant lock
// the activity still holds, whatever its nesting count.
func (a *Activity) teardown() {
	for idx := range a.frames {
		a.frames[idx] = nil
	}
	a.frames = a.frames[:0]
	a.roots = nil
	held := a.held
	a.held = nil
	for _, mutex := range held {
		mutex.forceRelease(a)
	}
}

// Join waits for a started activity to end and returns its error. It must
// not be called while holding the execution lock; activities use Await.
func (a *Activity) Join() error {
	<-a.done
	return a.err
}

// Await waits for other with the execution lock released.
func (a *Activity) Await(other *Activity) error {
	var err error
	a.Blocking(func() { err = other.Join() })
	return err
}

// Detach ends an attached activity. The calling goroutine must hold the
// execution lock through this activity.
func (a *Activity) Detach() {
	if !a.attached || a.ended {
		return
	}
	a.finish(nil)
	goRuntime.UnlockOSThread()
}

// Done is closed when the activity has ended.
func (a *Activity) Done() <-chan struct{} { return a.done }

// PushFrame adds f to the frame stack, failing with ErrStackFull when the
// stack is at the manager's depth limit.
func (a *Activity) PushFrame(f Frame) error {
	if len(a.frames) >= a.manager.maxDepth {
		return ErrStackFull
	}
	a.frames = append(a.frames, f)
	return nil
}

// PopFrame removes f, which must be the top frame.
func (a *Activity) PopFrame(f Frame) {
	last := len(a.frames) - 1
	if last < 0 || a.frames[last] != f {
		panic(fmt.Sprintf("%s: frame stack out of balance", a))
	}
	a.frames[last] = nil
	a.frames = a.frames[:last]
}

// Frames returns the frame stack, bottom first.
func (a *Activity) Frames() []Frame { return a.frames }

func (a *Activity) Depth() int { return len(a.frames) }

// TopFrame returns the innermost frame, or nil.
func (a *Activity) TopFrame() Frame {
	if len(a.frames) == 0 {
		return nil
	}
	return a.frames[len(a.frames)-1]
}

// Protect keeps obj alive for as long as the activity runs, in addition to
// whatever its frames report.
func (a *Activity) Protect(obj memory.Object) {
	if obj != nil {
		a.roots = append(a.roots, obj)
	}
}

func (a *Activity) markRoots(mark func(memory.Object)) {
	for _, obj := range a.roots {
		mark(obj)
	}
	for _, frame := range a.frames {
		frame.MarkRoots(mark)
	}
}

// RequestHalt asks the activity to stop at the next clause boundary.
func (a *Activity) RequestHalt(reason string) {
	a.haltMu.Lock()
	a.haltReason = reason
	a.haltMu.Unlock()
	a.halt.Store(true)
}

// HaltRequested reports and clears a pending halt request.
func (a *Activity) HaltRequested() (string, bool) {
	if !a.halt.Swap(false) {
		return "", false
	}
	a.haltMu.Lock()
	defer a.haltMu.Unlock()
	return a.haltReason, true
}

// HoldsLock reports whether the activity holds the execution lock.
func (a *Activity) HoldsLock() bool {
	return a.manager.HeldBy(a)
}

// Yield gives other activities a chance to run.
func (a *Activity) Yield() {
	a.manager.Yield(a)
}

func (a *Activity) addHeld(m *ReentrantMutex) {
	a.held = append(a.held, m)
}

func (a *Activity) removeHeld(m *ReentrantMutex) {
	for idx, held := range a.held {
		if held == m {
			a.held = append(a.held[:idx], a.held[idx+1:]...)
			return
		}
	}
}

// HeldMutexes counts the reentrant locks the activity owns.
func (a *Activity) HeldMutexes() int { return len(a.held) }
