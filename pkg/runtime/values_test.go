package runtime

import (
	"testing"

	"rexx/interpreter-go/pkg/memory"
)

func TestWeakReferenceResolvesToNilAfterCollection(t *testing.T) {
	h := memory.NewHeap(memory.Options{})
	target := NewString(h, "payload")
	ref := NewWeakReference(h, target)
	h.AddRoot(ref)

	if ref.Value() != memory.Object(target) {
		t.Fatalf("weak reference should resolve to its target before collection")
	}
	if _, err := h.Collect(); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if ref.Value() != memory.Object(Nil) {
		t.Fatalf("expected Nil after target was collected, got %v", ref.Value())
	}
}

func TestContainersKeepElementsAlive(t *testing.T) {
	h := memory.NewHeap(memory.Options{})
	elem := NewString(h, "x")
	arr := NewArray(h, elem, nil)
	dir := NewDirectory(h, 1)
	dir.Put("array", arr)
	vars := NewVariableDictionary(h)
	vars.Set("DIR", dir)
	h.AddRoot(vars)

	if _, err := h.Collect(); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, obj := range []memory.Object{elem, arr, dir, vars} {
		if !h.Owns(obj) {
			t.Fatalf("%s reachable from root was reclaimed", obj.ObjectHeader().Tag())
		}
	}

	vars.Drop("DIR")
	stats, err := h.Collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if stats.Freed != 3 {
		t.Fatalf("expected string, array and directory freed, got %+v", stats)
	}
}

func TestNilIsStatic(t *testing.T) {
	h := memory.NewHeap(memory.Options{})
	arr := NewArray(h, Nil)
	h.AddRoot(arr)
	if _, err := h.Collect(); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if h.Owns(Nil) || !Nil.Has(memory.FlagStatic) || Nil.Has(memory.FlagMarked) {
		t.Fatalf("Nil must stay untracked and unmarked, flags=%v", Nil.Flags())
	}
	if !IsNil(nil) || !IsNil(Nil) || IsNil(arr) {
		t.Fatalf("IsNil misclassified a value")
	}
}

func TestText(t *testing.T) {
	h := memory.NewHeap(memory.Options{})
	cases := []struct {
		obj  memory.Object
		want string
	}{
		{NewString(h, "abc"), "abc"},
		{Nil, "The NIL object"},
		{NewArray(h), "an Array"},
		{NewDirectory(h, 0), "a Directory"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := Text(tc.obj); got != tc.want {
			t.Fatalf("Text() = %q, want %q", got, tc.want)
		}
	}
}

func TestWholeNumber(t *testing.T) {
	h := memory.NewHeap(memory.Options{})
	cases := []struct {
		text string
		want int64
		ok   bool
	}{
		{"42", 42, true},
		{" -7 ", -7, true},
		{"3.0", 3, true},
		{"3.5", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		got, ok := WholeNumber(NewString(h, tc.text))
		if got != tc.want || ok != tc.ok {
			t.Fatalf("WholeNumber(%q) = %d, %v", tc.text, got, ok)
		}
	}
	if _, ok := WholeNumber(Nil); ok {
		t.Fatalf("Nil is not a number")
	}
}

func TestDirectoryKeysSorted(t *testing.T) {
	h := memory.NewHeap(memory.Options{})
	dir := NewDirectory(h, 3)
	dir.Put("b", Nil)
	dir.Put("a", Nil)
	dir.Put("c", Nil)
	keys := dir.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("unexpected key order %v", keys)
	}
}
