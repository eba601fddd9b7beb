package interpreter

import (
	"fmt"
	"strings"

	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

type targetKind uint8

const (
	targetUnresolved targetKind = iota
	targetLabel
	targetBuiltin
	targetExternal
)

func (k targetKind) String() string {
	switch k {
	case targetLabel:
		return "label"
	case targetBuiltin:
		return "builtin"
	case targetExternal:
		return "external"
	default:
		return "unresolved"
	}
}

// CallSite is one call in the code, with a cache of what the name resolved
// to. Internal labels are bound when the code is finalized and built-ins
// when the site is created; external routines are resolved on the first
// call and remembered by this site only. The external binding is never
// written to an image.
type CallSite struct {
	memory.Header
	name  string
	args  []Expression
	line  int
	kind  targetKind
	label int

	builtin  int
	external ExternalRoutine
}

func newCallSite(h *memory.Heap, line int, name string, args []Expression) *CallSite {
	site := &CallSite{name: strings.ToUpper(name), args: args, line: line}
	h.Allocate(site, runtime.TagCallSite, len(name)+8*len(args)+16)
	site.bindBuiltin()
	return site
}

func (s *CallSite) Name() string { return s.name }

func (s *CallSite) Args() []Expression { return s.args }

// Target reports how the site is currently bound.
func (s *CallSite) Target() string { return s.kind.String() }

func (s *CallSite) bindBuiltin() {
	if s.kind != targetUnresolved {
		return
	}
	if idx, ok := lookupBuiltin(s.name); ok {
		s.kind = targetBuiltin
		s.builtin = idx
	}
}

// bind attaches the site to a label of code, which takes precedence over a
// built-in of the same name.
func (s *CallSite) bind(code *Code) {
	if s.kind == targetExternal {
		return
	}
	if idx, ok := code.LabelIndex(s.name); ok {
		s.kind = targetLabel
		s.label = idx
		return
	}
	if s.kind == targetLabel {
		s.kind = targetUnresolved
	}
	s.bindBuiltin()
}

// Invoke evaluates the arguments left to right onto the stack and calls
// the target. A nil value means the target returned nothing.
func (s *CallSite) Invoke(a *Activation) (memory.Object, error) {
	for _, arg := range s.args {
		if _, err := arg.Evaluate(a); err != nil {
			return nil, err
		}
	}
	argc := len(s.args)
	defer a.stack.Pop(argc)

	if s.kind == targetUnresolved {
		if err := s.resolve(a); err != nil {
			return nil, err
		}
	}
	switch s.kind {
	case targetLabel:
		return a.callInternal(s, a.stack.Args(argc))
	case targetBuiltin:
		return a.callBuiltin(s, argc)
	default:
		return a.callExternal(s.external, a.stack.Args(argc))
	}
}

// resolve binds an unresolved site in dispatch order: the current code's
// labels, the built-in table, then the external resolvers.
func (s *CallSite) resolve(a *Activation) error {
	if idx, ok := a.code.LabelIndex(s.name); ok {
		s.kind = targetLabel
		s.label = idx
		return nil
	}
	if idx, ok := lookupBuiltin(s.name); ok {
		s.kind = targetBuiltin
		s.builtin = idx
		return nil
	}
	target, err := a.interp.resolveExternal(a, s.name)
	if err != nil {
		return err
	}
	if target == nil {
		cond := newSyntax(ErrRoutineNotFound, s.name)
		cond.Target = s.name
		return cond
	}
	s.kind = targetExternal
	s.external = target
	return nil
}

func (s *CallSite) Describe() string {
	args := make([]string, len(s.args))
	for idx, arg := range s.args {
		args[idx] = arg.Describe()
	}
	return fmt.Sprintf("%s(%s)", s.name, strings.Join(args, ", "))
}

func (s *CallSite) validate() error {
	for idx, arg := range s.args {
		if arg == nil {
			return fmt.Errorf("call to %s: argument %d is missing", s.name, idx+1)
		}
	}
	return nil
}

func init() {
	memory.RegisterType(runtime.TagCallSite, memory.TypeInfo{
		Name: "CallSite",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			s := obj.(*CallSite)
			for _, arg := range s.args {
				markExpr(mark, arg)
			}
			if managed, ok := s.external.(memory.Object); ok && s.kind == targetExternal {
				mark(managed)
			}
		},
		LiveGeneral: func(obj memory.Object, _ memory.MarkReason, visit func(memory.Object)) {
			for _, arg := range obj.(*CallSite).args {
				markExpr(visit, arg)
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			s := obj.(*CallSite)
			enc.String(s.name)
			enc.Uint32(uint32(s.line))
			enc.Uint32(uint32(len(s.args)))
			for _, arg := range s.args {
				enc.Ref(exprRef(arg))
			}
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			s := &CallSite{name: dec.String()}
			s.line = int(dec.Uint32())
			s.args = make([]Expression, dec.Count())
			for idx := range s.args {
				memory.RefTo(dec, &s.args[idx])
			}
			s.bindBuiltin()
			return s
		},
	})
}
