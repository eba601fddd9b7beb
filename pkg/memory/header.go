// Package memory implements the managed object heap: the per-object header,
// the allocator with its size-class free pool, the type dispatch table, and
// the mark-and-sweep collector with its weak reference registry.
//
// Every managed value embeds a Header and is reached through the Object
// interface. Behaviour that differs per type (reference enumeration,
// flattening, restoring) is looked up by the header's TypeTag in a flat
// table populated with RegisterType.
package memory

import (
	"fmt"
	"sync/atomic"
)

// TypeTag identifies the TypeInfo entry that describes a managed object.
// Tag zero is never registered and marks a header that was not initialised
// by an allocator.
type TypeTag uint16

func (t TypeTag) String() string {
	if info, ok := Lookup(t); ok {
		return info.Name
	}
	return fmt.Sprintf("tag(%d)", uint16(t))
}

// Flags are the per-object state bits kept in the header.
type Flags uint8

const (
	// FlagNoRefs is set for objects that never hold outgoing references.
	// The collector marks them without scanning.
	FlagNoRefs Flags = 1 << iota
	// FlagMarked is set while the object is known live in the current walk.
	FlagMarked
	// FlagRestored is set on objects produced by unflattening an image.
	FlagRestored
	// FlagStatic is set on process-wide singletons that no heap owns.
	FlagStatic
)

// HeaderSize is the accounted size of a Header in bytes.
const HeaderSize = 16

// Header is embedded as the first field of every managed type.
type Header struct {
	tag   TypeTag
	flags Flags
	heap  uint32
	hash  uint32
	size  uint32
}

// ObjectHeader lets any struct embedding Header satisfy Object.
func (h *Header) ObjectHeader() *Header { return h }

func (h *Header) Tag() TypeTag { return h.tag }

func (h *Header) Flags() Flags { return h.flags }

func (h *Header) Has(f Flags) bool { return h.flags&f != 0 }

// Size reports the accounted size of the object, header included.
func (h *Header) Size() uint32 { return h.size }

var hashSeq atomic.Uint32

// Hash returns the identity hash, assigning one on first use.
func (h *Header) Hash() uint32 {
	if h.hash == 0 {
		next := hashSeq.Add(0x9e3779b9)
		if next == 0 {
			next = hashSeq.Add(0x9e3779b9)
		}
		h.hash = next
	}
	return h.hash
}

// Object is implemented by every managed value.
type Object interface {
	ObjectHeader() *Header
}

// InitStatic prepares the header of a process-wide singleton. Static objects
// are never tracked by a heap and may not hold references.
func InitStatic(obj Object, tag TypeTag) {
	hdr := obj.ObjectHeader()
	*hdr = Header{tag: tag, flags: FlagNoRefs | FlagStatic}
}

var sizeClasses = [...]uint32{
	16, 32, 48, 64, 80, 96, 112, 128,
	160, 192, 224, 256, 320, 384, 448, 512,
	640, 768, 896, 1024, 1280, 1536, 1792, 2048,
	2560, 3072, 3584, 4096,
}

// NumSizeClasses counts the small size classes; larger objects share one
// extra pool bucket and are rounded to largeGranule.
const NumSizeClasses = len(sizeClasses)

const largeGranule = 4096

// roundSize returns the size class index and the rounded size for a request
// of n bytes.
func roundSize(n uint64) (int, uint64) {
	for idx, class := range sizeClasses {
		if n <= uint64(class) {
			return idx, uint64(class)
		}
	}
	return NumSizeClasses, (n + largeGranule - 1) / largeGranule * largeGranule
}
