package memory

import "fmt"

// MarkReason tells a reference enumerator why the graph is being walked.
// New reasons may be added; only the image reasons follow weak references.
type MarkReason int

const (
	ReasonGeneral MarkReason = iota
	ReasonSaveImage
	ReasonRestoreImage
)

// FollowsWeak reports whether weak references count as edges for the reason.
func (r MarkReason) FollowsWeak() bool {
	switch r {
	case ReasonSaveImage, ReasonRestoreImage:
		return true
	default:
		return false
	}
}

func (r MarkReason) String() string {
	switch r {
	case ReasonGeneral:
		return "general"
	case ReasonSaveImage:
		return "save-image"
	case ReasonRestoreImage:
		return "restore-image"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Encoder receives the fields of one object while it is flattened.
type Encoder interface {
	Ref(Object)
	Uint32(uint32)
	Int64(int64)
	Bool(bool)
	String(string)
}

// Decoder supplies the fields of one object while it is restored. Ref
// defers the assignment until every object of the image exists; set may be
// called with nil for an empty reference. Errors are sticky: once a read
// fails every later read returns a zero value.
type Decoder interface {
	Ref(set func(Object))
	// RefChecked is Ref for a field that holds only some types. A stored
	// reference to an object accept rejects fails the restore.
	RefChecked(accept func(Object) bool, set func(Object))
	// Count reads an element count and fails when the remaining input
	// cannot hold that many references.
	Count() int
	Uint32() uint32
	Int64() int64
	Bool() bool
	String() string
	Fail(err error)
}

// RefTo decodes a reference into dst. The referenced object must be a T;
// "no object" stores the zero value.
func RefTo[T any](dec Decoder, dst *T) {
	dec.RefChecked(func(obj Object) bool {
		_, ok := obj.(T)
		return ok
	}, func(obj Object) {
		if obj == nil {
			var zero T
			*dst = zero
			return
		}
		*dst = obj.(T)
	})
}

// TypeInfo is one row of the dispatch table.
type TypeInfo struct {
	Name string
	// Live enumerates strong references. Nil means the type holds none.
	Live func(obj Object, mark func(Object))
	// LiveGeneral enumerates references for the given reason, weak ones
	// included when the reason follows them. Nil falls back to Live.
	LiveGeneral func(obj Object, reason MarkReason, visit func(Object))
	Flatten     func(obj Object, enc Encoder)
	Unflatten   func(dec Decoder) Object
	// Weak types are entered in the heap's weak registry.
	Weak bool
}

const maxTypeTags = 1 << 8

var typeTable [maxTypeTags]*TypeInfo

// RegisterType installs the descriptor for tag. It is meant to be called
// from package init functions and panics on a duplicate or invalid tag.
func RegisterType(tag TypeTag, info TypeInfo) {
	if tag == 0 || int(tag) >= maxTypeTags {
		panic(fmt.Sprintf("memory: type tag %d out of range", tag))
	}
	if typeTable[tag] != nil {
		panic(fmt.Sprintf("memory: type tag %d already registered as %s", tag, typeTable[tag].Name))
	}
	entry := info
	typeTable[tag] = &entry
}

// Lookup returns the descriptor registered for tag.
func Lookup(tag TypeTag) (*TypeInfo, bool) {
	if int(tag) >= maxTypeTags {
		return nil, false
	}
	info := typeTable[tag]
	return info, info != nil
}

func mustLookup(tag TypeTag) *TypeInfo {
	info, ok := Lookup(tag)
	if !ok {
		panic(fmt.Sprintf("memory: unregistered type tag %d", tag))
	}
	return info
}

// Live enumerates the strong references of obj.
func Live(obj Object, mark func(Object)) {
	hdr := obj.ObjectHeader()
	if hdr.flags&FlagNoRefs != 0 {
		return
	}
	info, ok := Lookup(hdr.tag)
	if !ok || info.Live == nil {
		return
	}
	info.Live(obj, mark)
}

// LiveGeneral enumerates the references of obj for reason.
func LiveGeneral(obj Object, reason MarkReason, visit func(Object)) {
	info, ok := Lookup(obj.ObjectHeader().tag)
	if !ok {
		return
	}
	if info.LiveGeneral != nil {
		info.LiveGeneral(obj, reason, visit)
		return
	}
	if info.Live != nil {
		info.Live(obj, visit)
	}
}

// WeakObject is implemented by types registered with Weak set. The
// collector clears the referent when nothing else keeps it alive.
type WeakObject interface {
	Object
	Referent() Object
	ClearReferent()
}
