package activity

import (
	"errors"
	goRuntime "runtime"
	"sync/atomic"
	"testing"
	"time"

	"rexx/interpreter-go/pkg/memory"
)

func attach(t *testing.T, m *Manager, name string) *Activity {
	t.Helper()
	act, err := m.Attach(name)
	if err != nil {
		t.Fatalf("attach %s: %v", name, err)
	}
	t.Cleanup(act.Detach)
	return act
}

func spawn(t *testing.T, m *Manager, name string, fn func(*Activity) error) *Activity {
	t.Helper()
	act, err := m.NewActivity(name)
	if err != nil {
		t.Fatalf("new activity %s: %v", name, err)
	}
	act.Start(fn)
	return act
}

func TestExecutionLockIsExclusive(t *testing.T) {
	m := NewManager(Options{})
	var inside, overlaps, total atomic.Int64
	var acts []*Activity
	for i := 0; i < 4; i++ {
		acts = append(acts, spawn(t, m, "worker", func(a *Activity) error {
			for j := 0; j < 50; j++ {
				if inside.Add(1) != 1 {
					overlaps.Add(1)
				}
				total.Add(1)
				inside.Add(-1)
				a.Yield()
			}
			return nil
		}))
	}
	for _, act := range acts {
		if err := act.Join(); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if overlaps.Load() != 0 {
		t.Fatalf("%d steps ran concurrently under the execution lock", overlaps.Load())
	}
	if total.Load() != 200 {
		t.Fatalf("expected 200 steps, got %d", total.Load())
	}
	if m.Holder() != nil || len(m.Activities()) != 0 {
		t.Fatalf("finished activities still registered or holding the lock")
	}
}

func TestReleaseByNonHolderKeepsTheLock(t *testing.T) {
	m := NewManager(Options{})
	owner := attach(t, m, "owner")
	stranger, err := m.NewActivity("stranger")
	if err != nil {
		t.Fatalf("new activity: %v", err)
	}
	if err := m.Release(stranger); !errors.Is(err, ErrNotHolder) {
		t.Fatalf("release by non-holder = %v, want ErrNotHolder", err)
	}
	if m.Holder() != owner {
		t.Fatalf("lock moved away from its holder")
	}
}

func TestReentrantMutexAccounting(t *testing.T) {
	m := NewManager(Options{})
	owner := attach(t, m, "owner")
	mutex := NewReentrantMutex()

	for i := 0; i < 3; i++ {
		if !mutex.Request(owner, 0) {
			t.Fatalf("request %d failed", i+1)
		}
	}
	if mutex.Count() != 3 || mutex.Holder() != owner {
		t.Fatalf("expected owner with count 3, got %v/%d", mutex.Holder(), mutex.Count())
	}

	tryOther := func() bool {
		var got atomic.Bool
		other := spawn(t, m, "other", func(a *Activity) error {
			got.Store(mutex.Request(a, 0))
			if got.Load() {
				mutex.Release(a)
			}
			return nil
		})
		if err := owner.Await(other); err != nil {
			t.Fatalf("await: %v", err)
		}
		return got.Load()
	}

	mutex.Release(owner)
	mutex.Release(owner)
	if tryOther() {
		t.Fatalf("mutex acquired by another activity after 2 of 3 releases")
	}
	if !mutex.Release(owner) {
		t.Fatalf("final release failed")
	}
	if mutex.Holder() != nil || owner.HeldMutexes() != 0 {
		t.Fatalf("mutex still owned after matching releases")
	}
	if !tryOther() {
		t.Fatalf("mutex not available after the final release")
	}
	if mutex.Release(owner) {
		t.Fatalf("release without ownership must fail")
	}
}

func TestMutexForceReleasedWhenOwnerEnds(t *testing.T) {
	m := NewManager(Options{})
	mutex := NewReentrantMutex()
	first := spawn(t, m, "first", func(a *Activity) error {
		for i := 0; i < 3; i++ {
			if !mutex.Request(a, 0) {
				return errors.New("request failed")
			}
		}
		return nil
	})
	if err := first.Join(); err != nil {
		t.Fatalf("first activity: %v", err)
	}

	second := attach(t, m, "second")
	if !mutex.Request(second, 0) {
		t.Fatalf("mutex still held after its owner terminated")
	}
	if mutex.Count() != 1 {
		t.Fatalf("expected fresh count of 1, got %d", mutex.Count())
	}
}

func TestMutexTimedRequestReleasesLock(t *testing.T) {
	m := NewManager(Options{})
	owner := attach(t, m, "owner")
	mutex := NewReentrantMutex()
	mutex.Request(owner, 0)

	var got atomic.Bool
	waiter := spawn(t, m, "waiter", func(a *Activity) error {
		got.Store(mutex.Request(a, -1))
		if got.Load() {
			mutex.Release(a)
		}
		return nil
	})
	owner.Blocking(func() { time.Sleep(20 * time.Millisecond) })
	mutex.Release(owner)
	if err := owner.Await(waiter); err != nil {
		t.Fatalf("await: %v", err)
	}
	if !got.Load() {
		t.Fatalf("waiting request should succeed once the owner releases")
	}

	mutex.Request(owner, 0)
	start := time.Now()
	timed := spawn(t, m, "timed", func(a *Activity) error {
		got.Store(mutex.Request(a, 20))
		return nil
	})
	if err := owner.Await(timed); err != nil {
		t.Fatalf("await: %v", err)
	}
	if got.Load() || time.Since(start) < 20*time.Millisecond {
		t.Fatalf("bounded request should time out after 20ms")
	}
}

func TestEventSemaphoreWaitZeroPolls(t *testing.T) {
	m := NewManager(Options{})
	act := attach(t, m, "poller")
	sem := NewEventSemaphore()
	if sem.Wait(act, 0) {
		t.Fatalf("poll on an unposted semaphore should fail")
	}
	if !act.HoldsLock() {
		t.Fatalf("poll must not release the execution lock")
	}
	sem.Post()
	if !sem.Wait(act, 0) || !sem.Posted() {
		t.Fatalf("poll on a posted semaphore should succeed")
	}
	sem.Reset()
	if sem.Posted() {
		t.Fatalf("reset should clear the posted state")
	}
}

func TestEventSemaphoreWaitForeverWakesOnPost(t *testing.T) {
	m := NewManager(Options{})
	act := attach(t, m, "waiter")
	sem := NewEventSemaphore()
	poster := spawn(t, m, "poster", func(*Activity) error {
		sem.Post()
		return nil
	})
	if !sem.Wait(act, -1) {
		t.Fatalf("wait should return after the post")
	}
	if !act.HoldsLock() {
		t.Fatalf("wait must reacquire the execution lock")
	}
	if err := act.Await(poster); err != nil {
		t.Fatalf("await: %v", err)
	}
}

func TestEventSemaphorePostWakesAllWaiters(t *testing.T) {
	m := NewManager(Options{})
	sem := NewEventSemaphore()
	var woken atomic.Int64
	var waiters []*Activity
	for i := 0; i < 3; i++ {
		waiters = append(waiters, spawn(t, m, "waiter", func(a *Activity) error {
			if sem.Wait(a, -1) {
				woken.Add(1)
			}
			return nil
		}))
	}
	time.Sleep(10 * time.Millisecond)
	sem.Post()
	for _, w := range waiters {
		if err := w.Join(); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if woken.Load() != 3 {
		t.Fatalf("expected 3 waiters woken, got %d", woken.Load())
	}
}

func TestEventSemaphoreWaitTimesOut(t *testing.T) {
	m := NewManager(Options{})
	act := attach(t, m, "waiter")
	sem := NewEventSemaphore()
	start := time.Now()
	if sem.Wait(act, 25) {
		t.Fatalf("wait on an unposted semaphore should time out")
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatalf("wait returned before its timeout")
	}
	sem.Close()
	if sem.Wait(act, -1) {
		t.Fatalf("wait on a closed semaphore should fail")
	}
}

func TestUnsafeBlockReleasesAndReacquires(t *testing.T) {
	m := NewManager(Options{})
	act := attach(t, m, "main")
	block := act.EnterUnsafeBlock()
	if m.Held() {
		t.Fatalf("lock still held inside unsafe block")
	}
	other := spawn(t, m, "other", func(*Activity) error { return nil })
	if err := other.Join(); err != nil {
		t.Fatalf("other activity could not run: %v", err)
	}
	block.Exit()
	block.Exit()
	if !act.HoldsLock() {
		t.Fatalf("lock not reacquired after exit")
	}
}

type rootFrame struct {
	objs []memory.Object
}

func (f *rootFrame) MarkRoots(mark func(memory.Object)) {
	for _, obj := range f.objs {
		mark(obj)
	}
}

func TestFrameStackDepthAndRoots(t *testing.T) {
	m := NewManager(Options{MaxDepth: 2})
	act := attach(t, m, "main")
	sentinel := &struct{ memory.Header }{}
	first := &rootFrame{objs: []memory.Object{sentinel}}
	if err := act.PushFrame(first); err != nil {
		t.Fatalf("push: %v", err)
	}
	second := &rootFrame{}
	if err := act.PushFrame(second); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := act.PushFrame(&rootFrame{}); !errors.Is(err, ErrStackFull) {
		t.Fatalf("expected ErrStackFull, got %v", err)
	}
	var seen []memory.Object
	m.MarkRoots(func(obj memory.Object) { seen = append(seen, obj) })
	if len(seen) != 1 || seen[0] != memory.Object(sentinel) {
		t.Fatalf("unexpected roots %v", seen)
	}
	act.PopFrame(second)
	act.PopFrame(first)
	if act.Depth() != 0 || act.TopFrame() != nil {
		t.Fatalf("frames left after pops")
	}
}

func TestPanicIsRecoveredAndReported(t *testing.T) {
	m := NewManager(Options{})
	boom := errors.New("boom")
	act := spawn(t, m, "panicky", func(*Activity) error { panic(boom) })
	err := act.Join()
	var pe *PanicError
	if !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Fatalf("expected recovered panic wrapping boom, got %v", err)
	}
	if m.Held() {
		t.Fatalf("panicking activity left the lock held")
	}
	if goRuntime.GOOS == "linux" && act.ThreadID() == 0 {
		t.Fatalf("native thread id not recorded")
	}
}

func TestHaltRequest(t *testing.T) {
	m := NewManager(Options{})
	act := attach(t, m, "main")
	if _, ok := act.HaltRequested(); ok {
		t.Fatalf("no halt requested yet")
	}
	m.Shutdown()
	reason, ok := act.HaltRequested()
	if !ok || reason != "shutdown" {
		t.Fatalf("expected shutdown halt, got %q %v", reason, ok)
	}
	if _, err := m.NewActivity("late"); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}

func TestHeldByCallerIdentifiesTheHolder(t *testing.T) {
	if goRuntime.GOOS != "linux" && goRuntime.GOOS != "windows" {
		t.Skip("no native thread ids on " + goRuntime.GOOS)
	}
	m := NewManager(Options{})
	ready := make(chan bool)
	release := make(chan struct{})
	holder := spawn(t, m, "holder", func(*Activity) error {
		ready <- m.HeldByCaller()
		<-release
		return nil
	})
	if inside := <-ready; !inside {
		t.Fatalf("holder does not see the lock as its own")
	}
	if !m.Held() {
		t.Fatalf("lock not held while holder runs")
	}
	if m.HeldByCaller() {
		t.Fatalf("a goroutine without the lock passed the caller check")
	}
	close(release)
	if err := holder.Join(); err != nil {
		t.Fatalf("holder: %v", err)
	}
	if m.HeldByCaller() {
		t.Fatalf("caller check passed with the lock free")
	}
}
