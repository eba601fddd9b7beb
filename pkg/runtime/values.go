// Package runtime defines the managed data objects shared by the interpreter:
// strings, arrays, directories, variable dictionaries, weak references and
// the nil singleton. Every type embeds memory.Header and is registered in
// the memory dispatch table from this package's init.
package runtime

import (
	"sort"
	"strconv"
	"strings"

	"rexx/interpreter-go/pkg/memory"
)

// NilObject is the "no value" sentinel. There is exactly one, Nil.
type NilObject struct {
	memory.Header
}

var Nil = &NilObject{}

func init() {
	memory.InitStatic(Nil, TagNil)
}

// IsNil reports whether obj is absent or the Nil sentinel.
func IsNil(obj memory.Object) bool {
	if obj == nil {
		return true
	}
	_, ok := obj.(*NilObject)
	return ok
}

type String struct {
	memory.Header
	value string
}

func NewString(h *memory.Heap, value string) *String {
	s := &String{value: value}
	h.Allocate(s, TagString, len(value))
	return s
}

func (s *String) Value() string { return s.value }

type Array struct {
	memory.Header
	elements []memory.Object
}

// NewArray allocates an array holding elems. Empty slots hold nil.
func NewArray(h *memory.Heap, elems ...memory.Object) *Array {
	arr := &Array{elements: append([]memory.Object(nil), elems...)}
	h.Allocate(arr, TagArray, 8*len(elems))
	return arr
}

// NewArrayOfSize allocates an array with n empty slots.
func NewArrayOfSize(h *memory.Heap, n int) *Array {
	arr := &Array{elements: make([]memory.Object, n)}
	h.Allocate(arr, TagArray, 8*n)
	return arr
}

func (a *Array) Len() int { return len(a.elements) }

func (a *Array) At(idx int) memory.Object {
	if idx < 0 || idx >= len(a.elements) {
		return nil
	}
	return a.elements[idx]
}

func (a *Array) Put(idx int, obj memory.Object) bool {
	if idx < 0 || idx >= len(a.elements) {
		return false
	}
	a.elements[idx] = obj
	return true
}

// Directory maps string keys to objects. Keys are case sensitive.
type Directory struct {
	memory.Header
	entries map[string]memory.Object
}

func NewDirectory(h *memory.Heap, capacity int) *Directory {
	dir := &Directory{entries: make(map[string]memory.Object, capacity)}
	h.Allocate(dir, TagDirectory, 32+24*capacity)
	return dir
}

func (d *Directory) Get(key string) (memory.Object, bool) {
	obj, ok := d.entries[key]
	return obj, ok
}

func (d *Directory) Put(key string, obj memory.Object) {
	d.entries[key] = obj
}

func (d *Directory) Remove(key string) {
	delete(d.entries, key)
}

func (d *Directory) Len() int { return len(d.entries) }

// Keys returns the keys in sorted order.
func (d *Directory) Keys() []string {
	return sortedKeys(d.entries)
}

// VariableDictionary holds the variables of one activation. Names are
// stored as given; the interpreter upper-cases them before lookup.
type VariableDictionary struct {
	memory.Header
	vars map[string]memory.Object
}

func NewVariableDictionary(h *memory.Heap) *VariableDictionary {
	dict := &VariableDictionary{vars: make(map[string]memory.Object)}
	h.Allocate(dict, TagVariableDictionary, 64)
	return dict
}

func (v *VariableDictionary) Get(name string) (memory.Object, bool) {
	obj, ok := v.vars[name]
	return obj, ok
}

func (v *VariableDictionary) Set(name string, obj memory.Object) {
	v.vars[name] = obj
}

func (v *VariableDictionary) Drop(name string) {
	delete(v.vars, name)
}

func (v *VariableDictionary) Len() int { return len(v.vars) }

func (v *VariableDictionary) Names() []string {
	return sortedKeys(v.vars)
}

// WeakReference refers to a target without keeping it alive. Once the
// target is collected Value returns Nil.
type WeakReference struct {
	memory.Header
	referent memory.Object
}

func NewWeakReference(h *memory.Heap, target memory.Object) *WeakReference {
	if IsNil(target) {
		target = nil
	}
	ref := &WeakReference{referent: target}
	h.Allocate(ref, TagWeakReference, 8)
	return ref
}

func (w *WeakReference) Value() memory.Object {
	if w.referent == nil {
		return Nil
	}
	return w.referent
}

func (w *WeakReference) Referent() memory.Object { return w.referent }

func (w *WeakReference) ClearReferent() { w.referent = nil }

// Text renders obj the way SAY and concatenation see it.
func Text(obj memory.Object) string {
	switch v := obj.(type) {
	case nil:
		return ""
	case *String:
		return v.value
	case *NilObject:
		return "The NIL object"
	case *Array:
		return "an Array"
	case *Directory:
		return "a Directory"
	case *VariableDictionary:
		return "a VariableDictionary"
	case *WeakReference:
		return "a WeakReference"
	default:
		name := obj.ObjectHeader().Tag().String()
		if name != "" && strings.ContainsRune("AEIOU", rune(name[0])) {
			return "an " + name
		}
		return "a " + name
	}
}

// WholeNumber interprets the text of obj as a whole number.
func WholeNumber(obj memory.Object) (int64, bool) {
	s, ok := obj.(*String)
	if !ok {
		return 0, false
	}
	text := strings.TrimSpace(s.value)
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func sortedKeys(m map[string]memory.Object) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
