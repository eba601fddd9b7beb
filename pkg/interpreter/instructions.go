package interpreter

import (
	"fmt"
	"strconv"
	"strings"

	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

// Instruction is one executable clause.
type Instruction interface {
	memory.Object
	Line() int
	Text() string
	Execute(a *Activation) error
}

// clause carries the source position and text shown by trace output.
type clause struct {
	line int
	text string
}

func (c *clause) Line() int    { return c.line }
func (c *clause) Text() string { return c.text }

func (c *clause) encodeClause(enc memory.Encoder) {
	enc.Uint32(uint32(c.line))
	enc.String(c.text)
}

func (c *clause) decodeClause(dec memory.Decoder) {
	c.line = int(dec.Uint32())
	c.text = dec.String()
}

// returnSignal and exitSignal unwind activations; they are never seen by
// callers of the interpreter.
type returnSignal struct {
	value memory.Object
}

func (returnSignal) Error() string { return "RETURN outside of a routine" }

type exitSignal struct {
	value memory.Object
}

func (exitSignal) Error() string { return "EXIT" }

type Assignment struct {
	memory.Header
	clause
	target string
	expr   Expression
}

func (i *Assignment) Execute(a *Activation) error {
	value, err := i.expr.Evaluate(a)
	if err != nil {
		return err
	}
	a.vars.Set(i.target, value)
	a.traceResult(">=>", value)
	return nil
}

func (i *Assignment) validate() error {
	if i.expr == nil {
		return fmt.Errorf("line %d: assignment to %s has no value", i.line, i.target)
	}
	return nil
}

type Say struct {
	memory.Header
	clause
	expr Expression
}

func (i *Say) Execute(a *Activation) error {
	text := ""
	if i.expr != nil {
		value, err := i.expr.Evaluate(a)
		if err != nil {
			return err
		}
		a.traceResult(">>>", value)
		text = runtime.Text(value)
	}
	_, err := fmt.Fprintln(a.interp.stdout, text)
	return err
}

// CallInstruction invokes a routine and binds its result to RESULT.
type CallInstruction struct {
	memory.Header
	clause
	site *CallSite
}

func (i *CallInstruction) Execute(a *Activation) error {
	value, err := i.site.Invoke(a)
	if err != nil {
		return err
	}
	if value == nil {
		a.vars.Drop("RESULT")
		return nil
	}
	a.vars.Set("RESULT", value)
	a.traceResult(">>>", value)
	return nil
}

func (i *CallInstruction) validate() error {
	if i.site == nil {
		return fmt.Errorf("line %d: call without a target", i.line)
	}
	return nil
}

type Return struct {
	memory.Header
	clause
	expr Expression
}

func (i *Return) Execute(a *Activation) error {
	var value memory.Object
	if i.expr != nil {
		v, err := i.expr.Evaluate(a)
		if err != nil {
			return err
		}
		value = v
		a.traceResult(">>>", value)
	}
	a.result = value
	return returnSignal{value: value}
}

type Exit struct {
	memory.Header
	clause
	expr Expression
}

func (i *Exit) Execute(a *Activation) error {
	var value memory.Object
	if i.expr != nil {
		v, err := i.expr.Evaluate(a)
		if err != nil {
			return err
		}
		value = v
		a.traceResult(">>>", value)
	}
	a.result = value
	return exitSignal{value: value}
}

type Label struct {
	memory.Header
	clause
	name string
}

func (i *Label) Name() string { return i.name }

func (i *Label) Execute(*Activation) error { return nil }

type TraceInstruction struct {
	memory.Header
	clause
	setting TraceSetting
}

func (i *TraceInstruction) Execute(a *Activation) error {
	a.trace = i.setting
	return nil
}

// Loop runs its body a counted number of times, optionally stepping a
// control variable from 1.
type Loop struct {
	memory.Header
	clause
	count   Expression
	control string
	body    []Instruction
}

func (i *Loop) Execute(a *Activation) error {
	value, err := i.count.Evaluate(a)
	if err != nil {
		return err
	}
	n, ok := runtime.WholeNumber(value)
	if !ok {
		return newSyntax(ErrBadArithmetic, runtime.Text(value))
	}
	for iter := int64(1); iter <= n; iter++ {
		if i.control != "" {
			a.vars.Set(i.control, runtime.NewString(a.interp.heap, strconv.FormatInt(iter, 10)))
		}
		if err := a.runBlock(i.body); err != nil {
			return err
		}
	}
	return nil
}

func (i *Loop) validate() error {
	if i.count == nil {
		return fmt.Errorf("line %d: loop has no count", i.line)
	}
	for idx, instr := range i.body {
		if instr == nil {
			return fmt.Errorf("line %d: loop body instruction %d is missing", i.line, idx)
		}
	}
	return nil
}

// SignalOn arms a trap: when condition is raised, control transfers to
// label.
type SignalOn struct {
	memory.Header
	clause
	condition string
	label     string
}

func (i *SignalOn) Execute(a *Activation) error {
	if a.traps == nil {
		a.traps = make(map[string]string)
	}
	a.traps[i.condition] = i.label
	return nil
}

type Drop struct {
	memory.Header
	clause
	names []string
}

func (i *Drop) Execute(a *Activation) error {
	for _, name := range i.names {
		a.vars.Drop(name)
	}
	return nil
}

type Nop struct {
	memory.Header
	clause
}

func (i *Nop) Execute(*Activation) error { return nil }

func siteRef(site *CallSite) memory.Object {
	if site == nil {
		return nil
	}
	return site
}

func exprRef(expr Expression) memory.Object {
	if expr == nil {
		return nil
	}
	return expr
}

func markExpr(mark func(memory.Object), expr Expression) {
	if expr != nil {
		mark(expr)
	}
}

func encodeStrings(enc memory.Encoder, values []string) {
	enc.Uint32(uint32(len(values)))
	for _, v := range values {
		enc.String(v)
	}
}

func decodeStrings(dec memory.Decoder) []string {
	n := dec.Count()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, dec.String())
	}
	return out
}

func init() {
	memory.RegisterType(runtime.TagAssignment, memory.TypeInfo{
		Name: "Assignment",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			markExpr(mark, obj.(*Assignment).expr)
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*Assignment)
			i.encodeClause(enc)
			enc.String(i.target)
			enc.Ref(exprRef(i.expr))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &Assignment{}
			i.decodeClause(dec)
			i.target = dec.String()
			memory.RefTo(dec, &i.expr)
			return i
		},
	})
	memory.RegisterType(runtime.TagSay, memory.TypeInfo{
		Name: "Say",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			markExpr(mark, obj.(*Say).expr)
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*Say)
			i.encodeClause(enc)
			enc.Ref(exprRef(i.expr))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &Say{}
			i.decodeClause(dec)
			memory.RefTo(dec, &i.expr)
			return i
		},
	})
	memory.RegisterType(runtime.TagCall, memory.TypeInfo{
		Name: "Call",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			if site := obj.(*CallInstruction).site; site != nil {
				mark(site)
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*CallInstruction)
			i.encodeClause(enc)
			enc.Ref(siteRef(i.site))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &CallInstruction{}
			i.decodeClause(dec)
			memory.RefTo(dec, &i.site)
			return i
		},
	})
	memory.RegisterType(runtime.TagReturn, memory.TypeInfo{
		Name: "Return",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			markExpr(mark, obj.(*Return).expr)
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*Return)
			i.encodeClause(enc)
			enc.Ref(exprRef(i.expr))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &Return{}
			i.decodeClause(dec)
			memory.RefTo(dec, &i.expr)
			return i
		},
	})
	memory.RegisterType(runtime.TagExit, memory.TypeInfo{
		Name: "Exit",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			markExpr(mark, obj.(*Exit).expr)
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*Exit)
			i.encodeClause(enc)
			enc.Ref(exprRef(i.expr))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &Exit{}
			i.decodeClause(dec)
			memory.RefTo(dec, &i.expr)
			return i
		},
	})
	memory.RegisterType(runtime.TagLabel, memory.TypeInfo{
		Name: "Label",
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*Label)
			i.encodeClause(enc)
			enc.String(i.name)
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &Label{}
			i.decodeClause(dec)
			i.name = dec.String()
			return i
		},
	})
	memory.RegisterType(runtime.TagTrace, memory.TypeInfo{
		Name: "Trace",
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*TraceInstruction)
			i.encodeClause(enc)
			enc.Uint32(uint32(i.setting))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &TraceInstruction{}
			i.decodeClause(dec)
			i.setting = TraceSetting(dec.Uint32())
			if i.setting > TraceLabels {
				dec.Fail(fmt.Errorf("trace setting %d out of range", i.setting))
			}
			return i
		},
	})
	memory.RegisterType(runtime.TagLoop, memory.TypeInfo{
		Name: "Loop",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			i := obj.(*Loop)
			markExpr(mark, i.count)
			for _, instr := range i.body {
				if instr != nil {
					mark(instr)
				}
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*Loop)
			i.encodeClause(enc)
			enc.Ref(exprRef(i.count))
			enc.String(i.control)
			enc.Uint32(uint32(len(i.body)))
			for _, instr := range i.body {
				enc.Ref(instr)
			}
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &Loop{}
			i.decodeClause(dec)
			memory.RefTo(dec, &i.count)
			i.control = dec.String()
			i.body = make([]Instruction, dec.Count())
			for idx := range i.body {
				memory.RefTo(dec, &i.body[idx])
			}
			return i
		},
	})
	memory.RegisterType(runtime.TagSignalOn, memory.TypeInfo{
		Name: "SignalOn",
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*SignalOn)
			i.encodeClause(enc)
			enc.String(i.condition)
			enc.String(i.label)
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &SignalOn{}
			i.decodeClause(dec)
			i.condition = strings.ToUpper(dec.String())
			i.label = strings.ToUpper(dec.String())
			return i
		},
	})
	memory.RegisterType(runtime.TagDrop, memory.TypeInfo{
		Name: "Drop",
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			i := obj.(*Drop)
			i.encodeClause(enc)
			encodeStrings(enc, i.names)
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &Drop{}
			i.decodeClause(dec)
			i.names = decodeStrings(dec)
			return i
		},
	})
	memory.RegisterType(runtime.TagNop, memory.TypeInfo{
		Name: "Nop",
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			obj.(*Nop).encodeClause(enc)
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			i := &Nop{}
			i.decodeClause(dec)
			return i
		},
	})
}
