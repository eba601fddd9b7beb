package interpreter

import (
	"errors"
	"strconv"
	"time"

	"rexx/interpreter-go/pkg/activity"
	"rexx/interpreter-go/pkg/memory"
	"rexx/interpreter-go/pkg/runtime"
)

type activationKind uint8

const (
	activationProgram activationKind = iota
	activationRoutine
	activationInternal
)

// Activation is the execution record of one invocation: a program, an
// external routine, or an internal call to a label. It is also the frame
// pushed on the activity's frame stack and reports its roots to the
// collector.
type Activation struct {
	interp   *Interpreter
	activity *activity.Activity
	caller   *Activation
	kind     activationKind

	routine *Routine
	code    *Code
	ip      int
	line    int
	clauses int

	vars  *runtime.VariableDictionary
	stack EvalStack
	args  []memory.Object

	result    memory.Object
	condition memory.Object
	traps     map[string]string

	trace   TraceSetting
	address string
	elapsed time.Time
	debug   bool
}

func (a *Activation) Activity() *activity.Activity { return a.activity }

func (a *Activation) Interpreter() *Interpreter { return a.interp }

func (a *Activation) Caller() *Activation { return a.caller }

func (a *Activation) Vars() *runtime.VariableDictionary { return a.vars }

func (a *Activation) Stack() *EvalStack { return &a.stack }

func (a *Activation) Args() []memory.Object { return a.args }

func (a *Activation) Line() int { return a.line }

func (a *Activation) Trace() TraceSetting { return a.trace }

func (a *Activation) Address() string { return a.address }

// Condition returns the condition object of the last trapped condition.
func (a *Activation) Condition() memory.Object { return a.condition }

// RoutineName is the name of the routine this activation belongs to.
func (a *Activation) RoutineName() string {
	if a.routine == nil {
		return ""
	}
	return a.routine.name
}

// SetDebug switches interactive debugging for this activation.
func (a *Activation) SetDebug(on bool) { a.debug = on }

func (a *Activation) MarkRoots(mark func(memory.Object)) {
	if a.routine != nil {
		mark(a.routine)
	}
	if a.code != nil {
		mark(a.code)
	}
	if a.vars != nil {
		mark(a.vars)
	}
	a.stack.markRoots(mark)
	for _, arg := range a.args {
		mark(arg)
	}
	mark(a.result)
	mark(a.condition)
}

// child builds the activation for a call made from a.
func (a *Activation) child(kind activationKind, args []memory.Object) *Activation {
	return &Activation{
		interp:   a.interp,
		activity: a.activity,
		caller:   a,
		kind:     kind,
		args:     args,
		trace:    a.trace,
		address:  a.address,
		debug:    a.debug,
	}
}

// invoke pushes a as a frame, runs it, and pops it again.
func (a *Activation) invoke() (memory.Object, error) {
	if err := a.activity.PushFrame(a); err != nil {
		if errors.Is(err, activity.ErrStackFull) {
			return nil, newSyntax(ErrControlStackFull)
		}
		return nil, err
	}
	defer a.activity.PopFrame(a)
	value, err := a.run()
	if cond, ok := AsCondition(err); ok && a.caller != nil {
		cond.Callers = append(cond.Callers, a.caller.position())
	}
	return value, err
}

func (a *Activation) position() Position {
	pos := Position{Line: a.line}
	if a.code != nil {
		pos.Program = a.code.name
	}
	return pos
}

// callInternal runs the code at the site's label with the caller's
// variables.
func (a *Activation) callInternal(site *CallSite, args []memory.Object) (memory.Object, error) {
	callee := a.child(activationInternal, args)
	callee.routine = a.routine
	callee.code = a.code
	callee.vars = a.vars
	callee.ip = site.label
	callee.elapsed = a.elapsed
	callee.traps = make(map[string]string, len(a.traps))
	for cond, label := range a.traps {
		callee.traps[cond] = label
	}
	callee.vars.Set("SIGL", runtime.NewString(a.interp.heap, strconv.Itoa(site.line)))
	return callee.invoke()
}

// callRoutine runs routine r in a new activation with fresh variables.
func (a *Activation) callRoutine(r *Routine, args []memory.Object) (memory.Object, error) {
	callee := a.child(activationRoutine, args)
	callee.routine = r
	callee.code = r.code
	callee.vars = runtime.NewVariableDictionary(a.interp.heap)
	return callee.invoke()
}

func (a *Activation) callBuiltin(site *CallSite, argc int) (memory.Object, error) {
	return builtinTable[site.builtin].fn(a, argc, &a.stack)
}

func (a *Activation) callExternal(target ExternalRoutine, args []memory.Object) (memory.Object, error) {
	return target.Invoke(a, args)
}

// run executes clauses from ip until the code ends, a RETURN is reached, or
// an untrapped condition unwinds the activation.
func (a *Activation) run() (memory.Object, error) {
	for a.ip < len(a.code.instructions) {
		instr := a.code.instructions[a.ip]
		a.ip++
		err := a.step(instr)
		if err == nil {
			continue
		}
		if ret, ok := err.(returnSignal); ok {
			return ret.value, nil
		}
		cond, ok := AsCondition(err)
		if !ok {
			return nil, err
		}
		if handled, herr := a.trap(cond); herr != nil {
			return nil, herr
		} else if !handled {
			return nil, cond
		}
	}
	return nil, nil
}

// runBlock executes a nested clause list, such as a loop body.
func (a *Activation) runBlock(body []Instruction) error {
	for _, instr := range body {
		if err := a.step(instr); err != nil {
			return err
		}
	}
	return nil
}

// step executes one clause with the per-clause hooks: halt check, trace,
// debug pause, and the periodic yield.
func (a *Activation) step(instr Instruction) error {
	a.line = instr.Line()
	if reason, halted := a.activity.HaltRequested(); halted {
		return a.annotate(newHalt(reason))
	}
	a.traceClause(instr)
	if a.debug && a.interp.debugger != nil {
		if err := a.interp.debugger.Pause(a, instr); err != nil {
			return a.annotate(err)
		}
	}
	err := instr.Execute(a)
	a.stack.Clear()
	a.clauses++
	if a.interp.opts.YieldInterval > 0 && a.clauses%a.interp.opts.YieldInterval == 0 {
		a.activity.Yield()
	}
	return a.annotate(err)
}

// annotate fills in the position of a condition raised by the current
// clause.
func (a *Activation) annotate(err error) error {
	cond, ok := AsCondition(err)
	if !ok {
		return err
	}
	if cond.Line == 0 {
		cond.Line = a.line
	}
	if cond.Program == "" && a.code != nil {
		cond.Program = a.code.name
	}
	return err
}

// trap transfers control to the label armed for cond. Traps fire once and
// must be re-armed by the handler.
func (a *Activation) trap(cond *Condition) (bool, error) {
	label, ok := a.traps[cond.Name]
	if !ok {
		return false, nil
	}
	idx, found := a.code.LabelIndex(label)
	if !found {
		missing := newSyntax(ErrLabelNotFound, label)
		missing.Line = a.line
		missing.Program = a.code.name
		missing.Cause = cond
		return false, missing
	}
	delete(a.traps, cond.Name)
	a.condition = a.interp.conditionObject(cond, "SIGNAL")
	a.vars.Set("SIGL", runtime.NewString(a.interp.heap, strconv.Itoa(cond.Line)))
	a.ip = idx
	a.stack.Clear()
	return true, nil
}

func (a *Activation) elapsedOrigin() time.Time {
	if a.elapsed.IsZero() {
		a.elapsed = time.Now()
	}
	return a.elapsed
}
