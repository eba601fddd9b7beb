package interpreter

import (
	"fmt"
	"strings"

	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

// Builder allocates instruction graphs on a heap. Each instruction takes the
// next line number unless At sets one. Use it with the execution lock held.
type Builder struct {
	heap *memory.Heap
	line int
}

func NewBuilder(h *memory.Heap) *Builder {
	return &Builder{heap: h}
}

// At makes line the number of the next instruction.
func (b *Builder) At(line int) *Builder {
	b.line = line - 1
	return b
}

func (b *Builder) next(text string) clause {
	b.line++
	return clause{line: b.line, text: text}
}

func describe(expr Expression) string {
	if expr == nil {
		return ""
	}
	return expr.Describe()
}

func (b *Builder) Lit(value string) *Literal {
	e := &Literal{value: runtime.NewString(b.heap, value)}
	b.heap.Allocate(e, runtime.TagLiteral, 8)
	return e
}

func (b *Builder) Var(name string) *VariableRef {
	e := &VariableRef{name: runtime.NewString(b.heap, strings.ToUpper(name))}
	b.heap.Allocate(e, runtime.TagVariableRef, 8)
	return e
}

// Call builds a function call expression.
func (b *Builder) Call(name string, args ...Expression) *FunctionCall {
	e := &FunctionCall{site: newCallSite(b.heap, b.line+1, name, args)}
	b.heap.Allocate(e, runtime.TagFunctionCall, 8)
	return e
}

func (b *Builder) Op(op string, left, right Expression) *BinaryOp {
	e := &BinaryOp{op: op, left: left, right: right}
	b.heap.Allocate(e, runtime.TagBinaryOp, len(op)+16)
	return e
}

func (b *Builder) Say(expr Expression) *Say {
	i := &Say{clause: b.next(strings.TrimSpace("SAY " + describe(expr))), expr: expr}
	b.heap.Allocate(i, runtime.TagSay, 8)
	return i
}

func (b *Builder) Assign(name string, expr Expression) *Assignment {
	name = strings.ToUpper(name)
	i := &Assignment{clause: b.next(name + " = " + describe(expr)), target: name, expr: expr}
	b.heap.Allocate(i, runtime.TagAssignment, len(name)+8)
	return i
}

// CallStmt builds a CALL instruction.
func (b *Builder) CallStmt(name string, args ...Expression) *CallInstruction {
	c := b.next("")
	site := newCallSite(b.heap, c.line, name, args)
	words := make([]string, len(args))
	for idx, arg := range args {
		words[idx] = describe(arg)
	}
	c.text = strings.TrimSpace("CALL " + site.name + " " + strings.Join(words, ", "))
	i := &CallInstruction{clause: c, site: site}
	b.heap.Allocate(i, runtime.TagCall, 8)
	return i
}

func (b *Builder) Return(expr Expression) *Return {
	i := &Return{clause: b.next(strings.TrimSpace("RETURN " + describe(expr))), expr: expr}
	b.heap.Allocate(i, runtime.TagReturn, 8)
	return i
}

func (b *Builder) Exit(expr Expression) *Exit {
	i := &Exit{clause: b.next(strings.TrimSpace("EXIT " + describe(expr))), expr: expr}
	b.heap.Allocate(i, runtime.TagExit, 8)
	return i
}

func (b *Builder) Label(name string) *Label {
	name = strings.ToUpper(name)
	i := &Label{clause: b.next(name + ":"), name: name}
	b.heap.Allocate(i, runtime.TagLabel, len(name))
	return i
}

func (b *Builder) Trace(setting TraceSetting) *TraceInstruction {
	i := &TraceInstruction{clause: b.next("TRACE " + setting.String()), setting: setting}
	b.heap.Allocate(i, runtime.TagTrace, 4)
	return i
}

// Loop builds a counted loop. The body is built first, so the loop clause
// takes the line of its first body clause and the body moves down one.
func (b *Builder) Loop(count Expression, control string, body ...Instruction) *Loop {
	control = strings.ToUpper(control)
	text := "DO " + describe(count)
	if control != "" {
		text = fmt.Sprintf("DO %s = 1 TO %s", control, describe(count))
	}
	var c clause
	if len(body) == 0 {
		c = b.next(text)
	} else {
		c = clause{line: body[0].Line(), text: text}
		for _, instr := range body {
			shiftLines(instr, 1)
		}
		b.line++
	}
	i := &Loop{clause: c, count: count, control: control, body: body}
	b.heap.Allocate(i, runtime.TagLoop, len(control)+8*len(body)+8)
	return i
}

type positioned interface {
	position() *clause
}

func (c *clause) position() *clause { return c }

// shiftLines moves every clause and call site under root by delta lines.
func shiftLines(root Instruction, delta int) {
	memory.Walk(root, memory.ReasonGeneral, func(obj memory.Object) bool {
		switch v := obj.(type) {
		case positioned:
			v.position().line += delta
		case *CallSite:
			v.line += delta
		}
		return true
	})
}

func (b *Builder) SignalOn(condition, label string) *SignalOn {
	condition, label = strings.ToUpper(condition), strings.ToUpper(label)
	i := &SignalOn{clause: b.next("SIGNAL ON " + condition + " NAME " + label), condition: condition, label: label}
	b.heap.Allocate(i, runtime.TagSignalOn, len(condition)+len(label))
	return i
}

func (b *Builder) Drop(names ...string) *Drop {
	upper := make([]string, len(names))
	for idx, name := range names {
		upper[idx] = strings.ToUpper(name)
	}
	i := &Drop{clause: b.next("DROP " + strings.Join(upper, " ")), names: upper}
	b.heap.Allocate(i, runtime.TagDrop, 8*len(names))
	return i
}

func (b *Builder) Nop() *Nop {
	i := &Nop{clause: b.next("NOP")}
	b.heap.Allocate(i, runtime.TagNop, 0)
	return i
}

// Routine wraps instrs in finalized code.
func (b *Builder) Routine(name string, instrs ...Instruction) (*Routine, error) {
	code := NewCode(b.heap, name, instrs...)
	if err := code.Finalize(); err != nil {
		return nil, err
	}
	return NewRoutine(b.heap, name, code), nil
}
