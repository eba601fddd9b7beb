package memory

// CollectStats summarises one collection.
type CollectStats struct {
	Marked      int
	Freed       int
	FreedBytes  uint64
	WeakCleared int
}

// Collect runs a full mark-and-sweep cycle. The execution lock must be held
// by the caller.
func (h *Heap) Collect() (CollectStats, error) {
	if !h.mayCollect() {
		return CollectStats{}, ErrLockNotHeld
	}
	if h.collecting {
		return CollectStats{}, nil
	}
	return h.collect(), nil
}

func (h *Heap) collect() CollectStats {
	h.collecting = true
	defer func() { h.collecting = false }()

	var stats CollectStats
	for _, root := range h.roots {
		h.mark(root)
	}
	for _, src := range h.rootSources {
		src(h.mark)
	}
	for _, obj := range h.protected {
		h.mark(obj)
	}
	for _, obj := range h.held {
		h.mark(obj)
	}
	if h.pending != nil {
		Live(h.pending, h.mark)
	}
	stats.Marked = h.drain()
	stats.WeakCleared = h.sweepWeak()
	stats.Freed, stats.FreedBytes = h.sweep()

	h.stats.Collections++
	h.stats.WeakCleared += uint64(stats.WeakCleared)
	return stats
}

// mark records obj as live and queues it for scanning. Objects owned by
// another heap, static objects, and already marked objects are ignored.
func (h *Heap) mark(obj Object) {
	if obj == nil {
		return
	}
	hdr := obj.ObjectHeader()
	if hdr.heap != h.id || hdr.flags&FlagMarked != 0 {
		return
	}
	hdr.flags |= FlagMarked
	if hdr.flags&FlagNoRefs == 0 {
		h.worklist = append(h.worklist, obj)
	}
}

func (h *Heap) drain() int {
	scanned := 0
	for len(h.worklist) > 0 {
		last := len(h.worklist) - 1
		obj := h.worklist[last]
		h.worklist[last] = nil
		h.worklist = h.worklist[:last]
		Live(obj, h.mark)
		scanned++
	}
	return scanned
}

// sweepWeak clears weak references whose referent was not marked and
// compacts the registry, dropping entries whose own object is dying.
func (h *Heap) sweepWeak() int {
	cleared := 0
	kept := h.weak[:0]
	for _, weak := range h.weak {
		if !weak.ObjectHeader().Has(FlagMarked) {
			continue
		}
		if ref := weak.Referent(); ref != nil {
			rh := ref.ObjectHeader()
			if rh.heap == h.id && rh.flags&FlagMarked == 0 {
				weak.ClearReferent()
				cleared++
			}
		}
		kept = append(kept, weak)
	}
	for idx := len(kept); idx < len(h.weak); idx++ {
		h.weak[idx] = nil
	}
	h.weak = kept
	return cleared
}

func (h *Heap) sweep() (int, uint64) {
	freed := 0
	var bytes uint64
	live := h.objects[:0]
	for _, obj := range h.objects {
		hdr := obj.ObjectHeader()
		if hdr.flags&FlagMarked != 0 {
			hdr.flags &^= FlagMarked
			live = append(live, obj)
			continue
		}
		class, size := roundSize(uint64(hdr.size))
		h.free[class]++
		h.inUse -= size
		bytes += size
		freed++
		hdr.heap = 0
	}
	for idx := len(live); idx < len(h.objects); idx++ {
		h.objects[idx] = nil
	}
	h.objects = live
	h.stats.Frees += uint64(freed)
	return freed, bytes
}

// Walk visits every object reachable from root for reason in breadth-first
// order, root first. It keeps its own visited set and leaves mark flags
// untouched. Returning false from visit stops the walk.
func Walk(root Object, reason MarkReason, visit func(Object) bool) {
	if root == nil {
		return
	}
	seen := map[Object]struct{}{root: {}}
	queue := []Object{root}
	for len(queue) > 0 {
		obj := queue[0]
		queue = queue[1:]
		if !visit(obj) {
			return
		}
		LiveGeneral(obj, reason, func(child Object) {
			if child == nil {
				return
			}
			if _, ok := seen[child]; ok {
				return
			}
			seen[child] = struct{}{}
			queue = append(queue, child)
		})
	}
}
