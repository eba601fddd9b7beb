package activity

// UnsafeBlock marks a stretch of code that runs without the execution lock.
// Inside it the activity must not touch managed objects.
type UnsafeBlock struct {
	act      *Activity
	released bool
}

// EnterUnsafeBlock releases the execution lock if act holds it. The returned
// block reacquires it on Exit; Exit is safe to call more than once, so it
// is usually deferred.
func (a *Activity) EnterUnsafeBlock() *UnsafeBlock {
	block := &UnsafeBlock{act: a}
	if a.manager.HeldBy(a) {
		_ = a.manager.Release(a)
		block.released = true
	}
	return block
}

func (b *UnsafeBlock) Exit() {
	if !b.released {
		return
	}
	b.released = false
	b.act.manager.Acquire(b.act)
}

// Blocking runs fn with the execution lock released.
func (a *Activity) Blocking(fn func()) {
	block := a.EnterUnsafeBlock()
	defer block.Exit()
	fn()
}
