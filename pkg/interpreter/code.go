package interpreter

import (
	"fmt"
	"strings"

	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

// Routine is a named, callable unit of code. Routines are what images hold
// and what external resolution returns.
type Routine struct {
	memory.Header
	name string
	code *Code
}

func NewRoutine(h *memory.Heap, name string, code *Code) *Routine {
	r := &Routine{name: strings.ToUpper(name), code: code}
	h.Allocate(r, runtime.TagRoutine, len(name)+8)
	return r
}

func (r *Routine) Name() string { return r.name }

func (r *Routine) Code() *Code { return r.code }

// Invoke runs the routine in a fresh activation with its own variables.
func (r *Routine) Invoke(caller *Activation, args []memory.Object) (memory.Object, error) {
	return caller.callRoutine(r, args)
}

// Code is the instruction list of one program plus its label table.
type Code struct {
	memory.Header
	name         string
	instructions []Instruction
	labels       map[string]int
	finalized    bool
}

func NewCode(h *memory.Heap, name string, instructions ...Instruction) *Code {
	c := &Code{name: name, instructions: instructions}
	h.Allocate(c, runtime.TagCode, len(name)+8*len(instructions))
	return c
}

func (c *Code) Name() string { return c.name }

func (c *Code) Instructions() []Instruction { return c.instructions }

// Finalize builds the label table, validates the instruction graph and
// binds call sites that name a label. It must run before the code executes
// and again after it is restored from an image.
func (c *Code) Finalize() error {
	c.labels = make(map[string]int)
	for idx, instr := range c.instructions {
		if label, ok := instr.(*Label); ok {
			if _, dup := c.labels[label.name]; !dup {
				c.labels[label.name] = idx
			}
		}
	}
	var err error
	memory.Walk(c, memory.ReasonGeneral, func(obj memory.Object) bool {
		if v, ok := obj.(interface{ validate() error }); ok {
			if verr := v.validate(); verr != nil {
				err = fmt.Errorf("code %s: %w", c.name, verr)
				return false
			}
		}
		if site, ok := obj.(*CallSite); ok {
			site.bind(c)
		}
		return true
	})
	if err != nil {
		return err
	}
	c.finalized = true
	return nil
}

// LabelIndex returns the instruction index of label name.
func (c *Code) LabelIndex(name string) (int, bool) {
	idx, ok := c.labels[strings.ToUpper(name)]
	return idx, ok
}

func (c *Code) validate() error {
	for idx, instr := range c.instructions {
		if instr == nil {
			return fmt.Errorf("instruction %d is missing", idx)
		}
	}
	return nil
}

func (r *Routine) validate() error {
	if r.code == nil {
		return fmt.Errorf("routine %s has no code", r.name)
	}
	return nil
}

func codeRef(c *Code) memory.Object {
	if c == nil {
		return nil
	}
	return c
}

func init() {
	memory.RegisterType(runtime.TagRoutine, memory.TypeInfo{
		Name: "Routine",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			if code := obj.(*Routine).code; code != nil {
				mark(code)
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			r := obj.(*Routine)
			enc.String(r.name)
			enc.Ref(codeRef(r.code))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			r := &Routine{name: dec.String()}
			memory.RefTo(dec, &r.code)
			return r
		},
	})
	memory.RegisterType(runtime.TagCode, memory.TypeInfo{
		Name: "Code",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			for _, instr := range obj.(*Code).instructions {
				if instr != nil {
					mark(instr)
				}
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			c := obj.(*Code)
			enc.String(c.name)
			enc.Uint32(uint32(len(c.instructions)))
			for _, instr := range c.instructions {
				enc.Ref(instr)
			}
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			c := &Code{name: dec.String()}
			c.instructions = make([]Instruction, dec.Count())
			for idx := range c.instructions {
				memory.RefTo(dec, &c.instructions[idx])
			}
			return c
		},
	})
}
