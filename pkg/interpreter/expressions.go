package interpreter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

// Expression evaluates to a value. Evaluate pushes its result onto the
// activation's evaluation stack before returning it.
type Expression interface {
	memory.Object
	Evaluate(a *Activation) (memory.Object, error)
	Describe() string
}

type Literal struct {
	memory.Header
	value *runtime.String
}

func (e *Literal) Evaluate(a *Activation) (memory.Object, error) {
	a.stack.Push(e.value)
	return e.value, nil
}

func (e *Literal) Value() string { return e.value.Value() }

func (e *Literal) Describe() string {
	return "'" + strings.ReplaceAll(e.value.Value(), "'", "''") + "'"
}

func (e *Literal) validate() error {
	if e.value == nil {
		return fmt.Errorf("literal has no value")
	}
	return nil
}

// VariableRef reads a variable. An unset variable evaluates to its own
// name unless a NOVALUE trap is armed.
type VariableRef struct {
	memory.Header
	name *runtime.String
}

func (e *VariableRef) Name() string { return e.name.Value() }

func (e *VariableRef) Evaluate(a *Activation) (memory.Object, error) {
	if value, ok := a.vars.Get(e.name.Value()); ok {
		a.stack.Push(value)
		return value, nil
	}
	if _, trapped := a.traps[ConditionNoValue]; trapped {
		return nil, &Condition{
			Name:    ConditionNoValue,
			Message: fmt.Sprintf("variable %s has no value", e.name.Value()),
			Target:  e.name.Value(),
		}
	}
	a.stack.Push(e.name)
	return e.name, nil
}

func (e *VariableRef) Describe() string { return e.name.Value() }

func (e *VariableRef) validate() error {
	if e.name == nil {
		return fmt.Errorf("variable reference has no name")
	}
	return nil
}

// FunctionCall invokes a routine for its value. A routine that returns
// nothing raises Error 44.1.
type FunctionCall struct {
	memory.Header
	site *CallSite
}

func (e *FunctionCall) Evaluate(a *Activation) (memory.Object, error) {
	value, err := e.site.Invoke(a)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, newSyntax(ErrNoDataReturned, e.site.name)
	}
	a.stack.Push(value)
	return value, nil
}

func (e *FunctionCall) Describe() string { return e.site.Describe() }

func (e *FunctionCall) validate() error {
	if e.site == nil {
		return fmt.Errorf("function call without a target")
	}
	return nil
}

// Operators understood by BinaryOp.
const (
	OpConcat      = "||"
	OpBlankConcat = " "
	OpAdd         = "+"
	OpSubtract    = "-"
	OpMultiply    = "*"
	OpEqual       = "="
	OpNotEqual    = "\\="
	OpLess        = "<"
	OpGreater     = ">"
)

func validOperator(op string) bool {
	switch op {
	case OpConcat, OpBlankConcat, OpAdd, OpSubtract, OpMultiply, OpEqual, OpNotEqual, OpLess, OpGreater:
		return true
	default:
		return false
	}
}

type BinaryOp struct {
	memory.Header
	op          string
	left, right Expression
}

func (e *BinaryOp) Evaluate(a *Activation) (memory.Object, error) {
	left, err := e.left.Evaluate(a)
	if err != nil {
		return nil, err
	}
	right, err := e.right.Evaluate(a)
	if err != nil {
		return nil, err
	}
	lt, rt := runtime.Text(left), runtime.Text(right)
	var text string
	switch e.op {
	case OpConcat:
		text = lt + rt
	case OpBlankConcat:
		text = lt + " " + rt
	case OpAdd, OpSubtract, OpMultiply:
		l, err := number(lt)
		if err != nil {
			return nil, err
		}
		r, err := number(rt)
		if err != nil {
			return nil, err
		}
		switch e.op {
		case OpAdd:
			text = formatNumber(l + r)
		case OpSubtract:
			text = formatNumber(l - r)
		default:
			text = formatNumber(l * r)
		}
	default:
		text = boolText(compare(e.op, lt, rt))
	}
	result := runtime.NewString(a.interp.heap, text)
	a.stack.Push(result)
	return result, nil
}

func (e *BinaryOp) Describe() string {
	if e.op == OpBlankConcat {
		return e.left.Describe() + " " + e.right.Describe()
	}
	return e.left.Describe() + " " + e.op + " " + e.right.Describe()
}

func (e *BinaryOp) validate() error {
	if e.left == nil || e.right == nil {
		return fmt.Errorf("operator %q is missing an operand", e.op)
	}
	if !validOperator(e.op) {
		return fmt.Errorf("unknown operator %q", e.op)
	}
	return nil
}

func number(text string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, newSyntax(ErrBadArithmetic, text)
	}
	return f, nil
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 9, 64)
}

// compare applies the non-strict comparison rules: numeric when both sides
// are numbers, otherwise on the blank-stripped strings.
func compare(op, lt, rt string) bool {
	var cmp int
	l, lerr := strconv.ParseFloat(strings.TrimSpace(lt), 64)
	r, rerr := strconv.ParseFloat(strings.TrimSpace(rt), 64)
	if lerr == nil && rerr == nil {
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(strings.TrimSpace(lt), strings.TrimSpace(rt))
	}
	switch op {
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpLess:
		return cmp < 0
	default:
		return cmp > 0
	}
}

func boolText(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func stringRef(s *runtime.String) memory.Object {
	if s == nil {
		return nil
	}
	return s
}

func init() {
	memory.RegisterType(runtime.TagLiteral, memory.TypeInfo{
		Name: "Literal",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			if v := obj.(*Literal).value; v != nil {
				mark(v)
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			enc.Ref(stringRef(obj.(*Literal).value))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			e := &Literal{}
			memory.RefTo(dec, &e.value)
			return e
		},
	})
	memory.RegisterType(runtime.TagVariableRef, memory.TypeInfo{
		Name: "VariableRef",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			if n := obj.(*VariableRef).name; n != nil {
				mark(n)
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			enc.Ref(stringRef(obj.(*VariableRef).name))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			e := &VariableRef{}
			memory.RefTo(dec, &e.name)
			return e
		},
	})
	memory.RegisterType(runtime.TagFunctionCall, memory.TypeInfo{
		Name: "FunctionCall",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			if site := obj.(*FunctionCall).site; site != nil {
				mark(site)
			}
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			enc.Ref(siteRef(obj.(*FunctionCall).site))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			e := &FunctionCall{}
			memory.RefTo(dec, &e.site)
			return e
		},
	})
	memory.RegisterType(runtime.TagBinaryOp, memory.TypeInfo{
		Name: "BinaryOp",
		Live: func(obj memory.Object, mark func(memory.Object)) {
			e := obj.(*BinaryOp)
			markExpr(mark, e.left)
			markExpr(mark, e.right)
		},
		Flatten: func(obj memory.Object, enc memory.Encoder) {
			e := obj.(*BinaryOp)
			enc.String(e.op)
			enc.Ref(exprRef(e.left))
			enc.Ref(exprRef(e.right))
		},
		Unflatten: func(dec memory.Decoder) memory.Object {
			e := &BinaryOp{op: dec.String()}
			memory.RefTo(dec, &e.left)
			memory.RefTo(dec, &e.right)
			return e
		},
	})
}
