package memory

import (
	"errors"
	"fmt"
	"sync/atomic"
)

const (
	DefaultInitialSize = 4 << 20
	DefaultSegmentSize = 1 << 20
	DefaultLimit       = 512 << 20
)

// Options sizes a Heap. Zero fields take the defaults above.
type Options struct {
	InitialSize uint64
	SegmentSize uint64
	Limit       uint64
}

func (o Options) normalize() Options {
	if o.InitialSize == 0 {
		o.InitialSize = DefaultInitialSize
	}
	if o.SegmentSize == 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.Limit == 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit < o.InitialSize {
		o.Limit = o.InitialSize
	}
	return o
}

// ErrLockNotHeld is returned by Collect when the lock check reports that the
// caller does not hold the execution lock.
var ErrLockNotHeld = errors.New("memory: collection requires the execution lock")

// OutOfMemoryError is the panic value raised by Allocate when the heap is at
// its limit and a collection could not free enough space.
type OutOfMemoryError struct {
	Requested uint64
	InUse     uint64
	Limit     uint64
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: requested %d bytes with %d of %d in use", e.Requested, e.InUse, e.Limit)
}

// RootSource reports a set of roots on every collection.
type RootSource func(mark func(Object))

var heapSeq atomic.Uint32

// Heap owns the managed objects of one interpreter instance. Allocation and
// collection are serialised by the execution lock, not by the heap.
type Heap struct {
	id   uint32
	opts Options

	size  uint64
	inUse uint64

	objects []Object
	weak    []WeakObject

	roots       []Object
	rootSources []RootSource
	protected   []Object
	held        []Object
	holds       int
	pending     Object

	lockHeld   func() bool
	collecting bool
	worklist   []Object

	free  [NumSizeClasses + 1]uint64
	stats MemStats
}

// NewHeap reserves the initial heap size.
func NewHeap(opts Options) *Heap {
	opts = opts.normalize()
	return &Heap{
		id:   heapSeq.Add(1),
		opts: opts,
		size: opts.InitialSize,
	}
}

// SetLockCheck installs the predicate consulted before every collection.
// Without one the heap assumes a single-threaded owner.
func (h *Heap) SetLockCheck(fn func() bool) {
	h.lockHeld = fn
}

// AddRoot makes obj permanently reachable.
func (h *Heap) AddRoot(obj Object) {
	if obj == nil {
		return
	}
	h.roots = append(h.roots, obj)
}

// RemoveRoot drops one registration of obj made by AddRoot.
func (h *Heap) RemoveRoot(obj Object) {
	for idx, root := range h.roots {
		if root == obj {
			h.roots = append(h.roots[:idx], h.roots[idx+1:]...)
			return
		}
	}
}

// AddRootSource registers a callback that reports roots at collection time.
func (h *Heap) AddRootSource(src RootSource) {
	if src != nil {
		h.rootSources = append(h.rootSources, src)
	}
}

// Protect keeps objs reachable until the returned release func runs.
func (h *Heap) Protect(objs ...Object) func() {
	base := len(h.protected)
	h.protected = append(h.protected, objs...)
	return func() { h.truncateProtected(base) }
}

// Hold keeps every object allocated until the returned release func runs
// reachable. Holds nest; objects allocated under any of them stay reachable
// until the outermost release.
func (h *Heap) Hold() func() {
	h.holds++
	released := false
	return func() {
		if released {
			return
		}
		released = true
		h.holds--
		if h.holds == 0 {
			clear(h.held)
			h.held = h.held[:0]
		}
	}
}

func (h *Heap) truncateProtected(base int) {
	if base > len(h.protected) {
		return
	}
	for idx := base; idx < len(h.protected); idx++ {
		h.protected[idx] = nil
	}
	h.protected = h.protected[:base]
}

// Allocate accounts for obj, initialises its header, and starts tracking it.
// byteSize excludes the header. When the heap cannot satisfy the request
// even after collecting and growing, Allocate panics with
// *OutOfMemoryError.
func (h *Heap) Allocate(obj Object, tag TypeTag, byteSize int) Object {
	info := mustLookup(tag)
	if byteSize < 0 {
		byteSize = 0
	}
	class, size := roundSize(uint64(HeaderSize + byteSize))
	h.pending = obj
	hdr := obj.ObjectHeader()
	*hdr = Header{tag: tag}
	if info.Live == nil {
		hdr.flags |= FlagNoRefs
	}
	if err := h.reserve(size); err != nil {
		h.pending = nil
		panic(err)
	}
	h.pending = nil
	hdr.size = uint32(size)
	h.track(obj, info, class, size)
	return obj
}

// Adoption describes one object handed to Adopt.
type Adoption struct {
	Obj  Object
	Tag  TypeTag
	Size uint32
}

// Adopt tracks a batch of objects built outside the allocator, typically by
// unflattening an image. Either every object is adopted or, when the heap
// cannot hold them, none is and an *OutOfMemoryError is returned. Static
// singletons in the batch are skipped.
func (h *Heap) Adopt(batch []Adoption) error {
	var total uint64
	classes := make([]int, len(batch))
	sizes := make([]uint64, len(batch))
	for idx, entry := range batch {
		if entry.Obj.ObjectHeader().Has(FlagStatic) {
			classes[idx] = -1
			continue
		}
		if _, ok := Lookup(entry.Tag); !ok {
			return fmt.Errorf("memory: adopt unregistered type tag %d", entry.Tag)
		}
		request := uint64(entry.Size)
		if request < HeaderSize {
			request = HeaderSize
		}
		classes[idx], sizes[idx] = roundSize(request)
		total += sizes[idx]
	}
	if err := h.reserve(total); err != nil {
		return err
	}
	for idx, entry := range batch {
		if classes[idx] < 0 {
			continue
		}
		info := mustLookup(entry.Tag)
		hdr := entry.Obj.ObjectHeader()
		*hdr = Header{tag: entry.Tag, flags: FlagRestored, size: uint32(sizes[idx])}
		if info.Live == nil {
			hdr.flags |= FlagNoRefs
		}
		h.track(entry.Obj, info, classes[idx], sizes[idx])
	}
	return nil
}

func (h *Heap) track(obj Object, info *TypeInfo, class int, size uint64) {
	hdr := obj.ObjectHeader()
	hdr.heap = h.id
	if h.free[class] > 0 {
		h.free[class]--
		h.stats.Reused++
	}
	h.inUse += size
	h.objects = append(h.objects, obj)
	if info.Weak {
		if weak, ok := obj.(WeakObject); ok {
			h.weak = append(h.weak, weak)
		}
	}
	if h.holds > 0 {
		h.held = append(h.held, obj)
	}
	h.stats.Mallocs++
	h.stats.TotalAlloc += size
}

// reserve makes room for size more bytes. It collects first when allowed,
// then grows the heap by segments up to the limit.
func (h *Heap) reserve(size uint64) error {
	if h.inUse+size <= h.size {
		return nil
	}
	if !h.collecting && h.mayCollect() {
		h.collect()
		if h.size-h.inUse < h.size/3 {
			h.grow(0)
		}
		if h.inUse+size <= h.size {
			return nil
		}
	}
	for h.inUse+size > h.size {
		if !h.grow(h.inUse + size - h.size) {
			return &OutOfMemoryError{Requested: size, InUse: h.inUse, Limit: h.opts.Limit}
		}
	}
	return nil
}

// grow extends the heap by at least need bytes, rounded up to whole
// segments, without passing the limit.
func (h *Heap) grow(need uint64) bool {
	if h.size >= h.opts.Limit {
		return false
	}
	segments := (need + h.opts.SegmentSize - 1) / h.opts.SegmentSize
	if segments == 0 {
		segments = 1
	}
	next := h.size + segments*h.opts.SegmentSize
	if next > h.opts.Limit {
		next = h.opts.Limit
	}
	if next-h.size < need {
		return false
	}
	h.size = next
	h.stats.Grows++
	return true
}

func (h *Heap) mayCollect() bool {
	return h.lockHeld == nil || h.lockHeld()
}

// Owns reports whether obj is currently tracked by h.
func (h *Heap) Owns(obj Object) bool {
	if obj == nil {
		return false
	}
	return obj.ObjectHeader().heap == h.id
}

// Len reports the number of tracked objects.
func (h *Heap) Len() int { return len(h.objects) }

// MemStats is a snapshot of heap accounting.
type MemStats struct {
	HeapSize    uint64
	InUse       uint64
	Limit       uint64
	Objects     int
	WeakRefs    int
	Mallocs     uint64
	Frees       uint64
	Reused      uint64
	TotalAlloc  uint64
	Collections uint64
	Grows       uint64
	WeakCleared uint64
	FreeSlots   [NumSizeClasses + 1]uint64
}

func (h *Heap) Stats() MemStats {
	stats := h.stats
	stats.HeapSize = h.size
	stats.InUse = h.inUse
	stats.Limit = h.opts.Limit
	stats.Objects = len(h.objects)
	stats.WeakRefs = len(h.weak)
	stats.FreeSlots = h.free
	return stats
}

// SizeClass reports the byte size of free pool bucket idx; the last bucket
// collects every large object and reports zero.
func SizeClass(idx int) uint32 {
	if idx < 0 || idx >= NumSizeClasses {
		return 0
	}
	return sizeClasses[idx]
}
