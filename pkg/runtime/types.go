package runtime

import "rexx/interpreter-go/pkg/memory"

func init() {
	memory.RegisterType(TagNil, memory.TypeInfo{
		Name:      "Nil",
		Flatten:   func(memory.Object, memory.Encoder) {},
		Unflatten: func(memory.Decoder) memory.Object { return Nil },
	})
	memory.RegisterType(TagString, memory.TypeInfo{
		Name: "String",
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			enc.String(obj.(*String).value)
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			return &String{value: dec.String()}
		},
	})
	memory.RegisterType(TagArray, memory.TypeInfo{
		Name: "Array",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			for _, elem := range obj.(*Array).elements {
				mark(elem)
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			arr := obj.(*Array)
			enc.Uint32(uint32(len(arr.elements)))
			for _, elem := range arr.elements {
				enc.Ref(elem)
			}
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			arr := &Array{elements: make([]memory.Object, dec.Count())}
			for idx := range arr.elements {
				slot := idx
				dec.Ref(func(obj memory.Object) { arr.elements[slot] = obj })
			}
			return arr
		},
	})
	memory.RegisterType(TagDirectory, memory.TypeInfo{
		Name: "Directory",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			for _, value := range obj.(*Directory).entries {
				mark(value)
			}
		},
		LiveGeneral: func(obj memory.Object, _ memory.MarkReason, visit func(memory.Object)) {
			visitSorted(obj.(*Directory).entries, visit)
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			flattenEntries(obj.(*Directory).entries, enc)
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			return &Directory{entries: unflattenEntries(dec)}
		},
	})
	memory.RegisterType(TagVariableDictionary, memory.TypeInfo{
		Name: "VariableDictionary",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			for _, value := range obj.(*VariableDictionary).vars {
				mark(value)
			}
		},
		LiveGeneral: func(obj memory.Object, _ memory.MarkReason, visit func(memory.Object)) {
			visitSorted(obj.(*VariableDictionary).vars, visit)
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			flattenEntries(obj.(*VariableDictionary).vars, enc)
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			return &VariableDictionary{vars: unflattenEntries(dec)}
		},
	})
	memory.RegisterType(TagWeakReference, memory.TypeInfo{
		Name: "WeakReference",
		LiveGeneral: func(obj memory.Object, reason memory.MarkReason, visit func(memory.Object)) {
			if !reason.FollowsWeak() {
				return
			}
			if ref := obj.(*WeakReference).referent; ref != nil {
				visit(ref)
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			enc.Ref(obj.(*WeakReference).referent)
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			ref := &WeakReference{}
			dec.Ref(func(obj memory.Object) { ref.referent = obj })
			return ref
		},
		Weak: true,
	})
}

// visitSorted enumerates entries in key order so images of equal graphs are
// byte-identical.
func visitSorted(entries map[string]memory.Object, visit func(memory.Object)) {
	for _, key := range sortedKeys(entries) {
		visit(entries[key])
	}
}

func flattenEntries(entries map[string]memory.Object, enc memory.Encoder) {
	keys := sortedKeys(entries)
	enc.Uint32(uint32(len(keys)))
	for _, key := range keys {
		enc.String(key)
		enc.Ref(entries[key])
	}
}

func unflattenEntries(dec memory.Decoder) map[string]memory.Object {
	n := dec.Count()
	entries := make(map[string]memory.Object, n)
	for i := 0; i < n; i++ {
		key := dec.String()
		dec.Ref(func(obj memory.Object) { entries[key] = obj })
	}
	return entries
}
